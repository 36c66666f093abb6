package mailer

import (
	"context"
	"errors"
	"net"
	"net/textproto"
)

// ErrorKind maps a transport error to the short kind recorded in the audit
// log, standing in for the error class name of the source system.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	// Context errors first: context.DeadlineExceeded also satisfies
	// net.Error and would otherwise be reported as a network timeout.
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "context_canceled"
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		// Server rejected the transaction with an SMTP status code.
		return "smtp_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "network_timeout"
		}
		return "network_error"
	}

	return "unknown_error"
}
