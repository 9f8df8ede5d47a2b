package mailfiler

import (
	"context"
	"io"
	"time"
)

// Transport sends a message to email addresses.
// The filer calls Send for every address target of a message.
type Transport interface {
	// Send submits message for the envelope recipients.
	// message is the raw RFC 5322 message content.
	Send(ctx context.Context, envelope Envelope, message io.Reader) error
}

// Envelope contains the SMTP envelope of an outgoing message.
type Envelope struct {
	// From is the MAIL FROM address (reverse-path).
	From string

	// Recipients contains the RCPT TO addresses (forward-paths).
	Recipients []string

	// QueuedTime is when the filer decided to send the message.
	QueuedTime time.Time
}
