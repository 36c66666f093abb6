package mailer

import "context"

// Transport delivers one message to a list of recipients. A failed
// delivery, partial or total, is reported as an error.
type Transport interface {
	Send(ctx context.Context, subject, body, from string, to []string) error
}
