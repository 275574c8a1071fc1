package connector

import (
	"strconv"
	"strings"

	"github.com/echolabs/echo-agent/internal/domain"
)

// operation is one sub-action a connector can perform.
type operation struct {
	intent   string
	triggers []string
	success  string
	failure  string
	validate func(Params) string
}

func (o operation) matches(lower string) bool {
	for _, t := range o.triggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// kind holds what differs between connector variants: the default keywords,
// the advertised capabilities and the sub-actions in priority order.
type kind struct {
	keywords     []string
	capabilities []string
	operations   []operation
	fallback     *operation
}

func (k kind) resolve(lower string) (operation, bool) {
	for _, op := range k.operations {
		if op.matches(lower) {
			return op, true
		}
	}
	if k.fallback != nil {
		return *k.fallback, true
	}
	return operation{}, false
}

var paymentKind = kind{
	keywords:     []string{"pay", "payment", "charge", "refund", "transfer", "stripe"},
	capabilities: []string{"Process payments", "Handle refunds", "Manage transactions"},
	operations: []operation{
		{
			intent:   "refund",
			triggers: []string{"refund"},
			success:  "refund_processed",
			failure:  "refund_failed",
		},
		{
			intent:   "payment",
			triggers: []string{"pay", "charge", "transfer", "stripe"},
			success:  "payment_processed",
			failure:  "payment_failed",
			validate: validatePayment,
		},
	},
}

var communicationKind = kind{
	keywords:     []string{"send", "message", "sms", "call", "twilio", "text"},
	capabilities: []string{"Send messages", "Make calls", "Handle communications"},
	operations: []operation{
		{
			intent:   "send_message",
			triggers: []string{"send", "message", "sms", "text", "twilio"},
			success:  "message_sent",
			failure:  "message_failed",
			validate: validateMessage,
		},
		{
			intent:   "call",
			triggers: []string{"call"},
			success:  "call_initiated",
			failure:  "call_failed",
			validate: validateCall,
		},
	},
}

var genericKind = kind{
	capabilities: []string{"Execute service commands"},
	fallback: &operation{
		intent:  "invoke",
		success: "service_executed",
		failure: "service_failed",
	},
}

func kindFor(serviceType string) kind {
	switch strings.ToLower(strings.TrimSpace(serviceType)) {
	case domain.ServiceTypePayment:
		return paymentKind
	case domain.ServiceTypeCommunication:
		return communicationKind
	default:
		return genericKind
	}
}

func validatePayment(p Params) string {
	amount, ok := Number(p["amount"])
	if !ok || amount <= 0 {
		return "Invalid amount"
	}
	if _, ok := p["currency"]; !ok {
		p["currency"] = "USD"
	}
	p["amount"] = amount
	return ""
}

func validateMessage(p Params) string {
	if recipient(p) == "" {
		return "No recipient specified"
	}
	if s, _ := p["message"].(string); strings.TrimSpace(s) == "" {
		return "No message content"
	}
	return ""
}

func validateCall(p Params) string {
	if recipient(p) == "" {
		return "No recipient specified"
	}
	return ""
}

func recipient(p Params) string {
	if s, ok := p["to"].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	if s, ok := p["recipient_name"].(string); ok && strings.TrimSpace(s) != "" {
		p["to"] = s
		return s
	}
	return ""
}

// Number converts a JSON-ish numeric value to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(n), "$"), 64)
		return f, err == nil
	}
	return 0, false
}
