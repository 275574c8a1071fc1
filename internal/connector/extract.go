package connector

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	amountPattern    = regexp.MustCompile(`(?i)\$?(\d+(?:\.\d{2})?)\s*(?:USD|dollars?|bucks?)?\b`)
	phonePattern     = regexp.MustCompile(`(\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4})`)
	emailPattern     = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	recipientPattern = regexp.MustCompile(`(?i)\bto\s+([A-Za-z\s]+?)(?:\s|$)`)
	messagePattern   = regexp.MustCompile(`(?i)(?:saying|message|text)\s+(.+?)(?:\s+to\s|$)`)
	quotedPattern    = regexp.MustCompile(`["']([^"']+)["']`)
)

// maxAmount keeps phone numbers and ids from being read as amounts.
const maxAmount = 1_000_000

// ExtractParameters pulls amounts, recipients and message bodies out of a
// free-text command.
func ExtractParameters(text string) Params {
	params := Params{}

	if m := amountPattern.FindStringSubmatch(text); m != nil {
		if amount, err := strconv.ParseFloat(m[1], 64); err == nil && amount < maxAmount {
			params["amount"] = amount
		}
	}

	if m := phonePattern.FindStringSubmatch(text); m != nil {
		params["to"] = strings.TrimSpace(m[1])
	}
	if m := emailPattern.FindString(text); m != "" {
		params["to"] = m
	}
	if _, ok := params["to"]; !ok {
		if m := recipientPattern.FindStringSubmatch(text); m != nil {
			params["recipient_name"] = strings.TrimSpace(m[1])
		}
	}

	if m := messagePattern.FindStringSubmatch(text); m != nil {
		params["message"] = strings.TrimSpace(m[1])
	} else if m := quotedPattern.FindStringSubmatch(text); m != nil {
		params["message"] = m[1]
	}

	return params
}
