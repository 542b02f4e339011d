package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/twilio"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// minPhoneDigits is the shortest recipient accepted after canonicalization.
const minPhoneDigits = 10

// SMSService implements Service on top of a Twilio sender.
type SMSService struct {
	client twilio.Sender // Could be real Twilio client or MockClient
}

// Compile-time check that SMSService implements Service.
var _ Service = (*SMSService)(nil)

// NewSMSService creates a new SMSService.
func NewSMSService(client twilio.Sender) *SMSService {
	return &SMSService{client: client}
}

// ValidateAndCanonicalizeRecipient converts a phone number into E.164 and
// rejects numbers with too few digits.
func (s *SMSService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	digits := util.DigitsOnly(recipient)
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(digits) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", digits, minPhoneDigits)
	}
	canonical := util.ToE164(recipient)
	if canonical != recipient {
		slog.Debug("SMSService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// SendSMS validates both numbers and sends body through Twilio.
func (s *SMSService) SendSMS(ctx context.Context, from, to, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}
	if strings.TrimSpace(from) == "" {
		return "", ErrNoSender
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("SMSService.SendSMS validation error", "error", err, "to", to)
		return "", err
	}
	if len(body) > MaxSMSLength {
		slog.Warn("SMSService.SendSMS truncating body", "to", canonicalTo, "length", len(body))
		body = truncateRunes(body, MaxSMSLength)
	}

	sid, err := s.client.SendSMS(ctx, util.ToE164(from), canonicalTo, body)
	if err != nil {
		return "", err
	}
	slog.Debug("SMSService.SendSMS sent", "to", canonicalTo, "sid", sid)
	return sid, nil
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := 0
	for i := range s {
		if i > max {
			break
		}
		cut = i
	}
	return s[:cut]
}
