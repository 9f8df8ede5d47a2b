// Package transport sends forwarded copies of filed messages, either
// through an SMTP relay or by handing them to a local sendmail program.
package transport

import (
	"errors"
	"fmt"

	"github.com/emersion/go-smtp"
)

// RelayError wraps an error with information about whether it's permanent or temporary.
// Permanent errors (5xx SMTP codes) should not be retried.
// Temporary errors (4xx SMTP codes, network errors) can be retried.
type RelayError struct {
	Err       error
	Permanent bool // true for 5xx errors, false for 4xx/network errors
}

func (e *RelayError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent failure: %v", e.Err)
	}
	return fmt.Sprintf("temporary failure: %v", e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// IsPermanentError reports whether err is a permanent failure.
// 5xx SMTP replies are permanent; 4xx replies, network errors and sendmail
// exit statuses other than EX_NOUSER/EX_NOHOST/EX_DATAERR are not.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Permanent
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return !smtpErr.Temporary()
	}

	return false
}
