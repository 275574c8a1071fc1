package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractParameters(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Params
	}{
		{
			name: "dollar amount and recipient name",
			text: "pay $10 to merchant",
			want: Params{"amount": 10.0, "recipient_name": "merchant"},
		},
		{
			name: "bucks with email recipient",
			text: "send 25.50 bucks to x@example.com",
			want: Params{"amount": 25.50, "to": "x@example.com"},
		},
		{
			name: "phone number is not an amount",
			text: "call 5551234567",
			want: Params{"to": "5551234567"},
		},
		{
			name: "message after saying",
			text: "sms +15551234567 saying running late",
			want: Params{"to": "+15551234567", "message": "running late"},
		},
		{
			name: "quoted message",
			text: `send "see you soon" to bob`,
			want: Params{"recipient_name": "bob", "message": "see you soon"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractParameters(tt.text)
			for k, v := range tt.want {
				assert.Equal(t, v, got[k], "key %s", k)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	d := Descriptor{Name: "Stripe"}

	assert.Equal(t,
		"✅ Payment of $10.00 USD has been processed successfully.",
		Summarize(&Outcome{Action: "payment_processed", Succeeded: true, Payload: map[string]any{"amount": 10.0, "currency": "USD"}}, d))
	assert.Equal(t, "❌ Invalid amount", Summarize(&Outcome{Action: "payment_failed", Message: "Invalid amount"}, d))
	assert.Equal(t, "✅ Stripe has completed the requested action.", Summarize(&Outcome{Action: "service_executed", Succeeded: true}, d))
}
