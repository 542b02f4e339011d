// Package messaging delivers outbound text messages for workflow steps.
//
// SMSService validates recipients and hands messages to a Twilio sender;
// AIMessenger drafts a message with a language model before sending it.
package messaging

import (
	"context"
	"errors"
)

var (
	// ErrEmptyBody is returned when a message has no text.
	ErrEmptyBody = errors.New("message body cannot be empty")
	// ErrNoSender is returned when no from number is supplied.
	ErrNoSender = errors.New("from number cannot be empty")
)

// MaxSMSLength is the longest body Twilio accepts for a single message.
const MaxSMSLength = 1600

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendSMS sends body from one number to another and returns the provider message id.
	SendSMS(ctx context.Context, from, to, body string) (string, error)
}
