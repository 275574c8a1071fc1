package connector

import (
	"fmt"
	"strconv"
)

// Summarize renders the deterministic user-facing message for an outcome.
func Summarize(o *Outcome, d Descriptor) string {
	if o == nil {
		return d.Name + " did not return a result."
	}
	if !o.Succeeded {
		msg := o.Message
		if msg == "" {
			msg = d.Name + " could not complete the request."
		}
		return "❌ " + msg
	}

	switch o.Action {
	case "payment_processed":
		currency, _ := o.Payload["currency"].(string)
		if currency == "" {
			currency = "USD"
		}
		return fmt.Sprintf("✅ Payment of $%s %s has been processed successfully.", formatAmount(o.Payload["amount"]), currency)
	case "refund_processed":
		return fmt.Sprintf("✅ Refund of $%s has been processed successfully.", formatAmount(o.Payload["amount"]))
	case "message_sent":
		to, _ := o.Payload["to"].(string)
		if to == "" {
			to = "recipient"
		}
		return "✅ Your message has been sent successfully to " + to + "."
	case "call_initiated":
		return "✅ Call has been initiated successfully."
	}
	return "✅ " + d.Name + " has completed the requested action."
}

func formatAmount(v any) string {
	n, ok := Number(v)
	if !ok {
		return "0"
	}
	return strconv.FormatFloat(n, 'f', 2, 64)
}
