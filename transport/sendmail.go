package transport

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/infodancer/mailfiler"
	"github.com/infodancer/mailfiler/errors"
)

// DefaultSendmail is used when no sendmail program is configured.
const DefaultSendmail = "sendmail"

// sysexits codes that mean retrying cannot help.
var permanentExitCodes = map[int]bool{
	65: true, // EX_DATAERR
	67: true, // EX_NOUSER
	68: true, // EX_NOHOST
}

// Sendmail hands messages to a local sendmail-compatible program, invoked
// as "sendmail -oi [-f from] recipient...".
type Sendmail struct {
	program string
	logger  *slog.Logger
}

// NewSendmail returns a Sendmail transport running program.
func NewSendmail(program string, logger *slog.Logger) *Sendmail {
	if program == "" {
		program = DefaultSendmail
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sendmail{program: program, logger: logger}
}

// Send implements mailfiler.Transport.
func (s *Sendmail) Send(ctx context.Context, envelope mailfiler.Envelope, message io.Reader) error {
	if len(envelope.Recipients) == 0 {
		return errors.ErrNoRecipients
	}

	args := []string{"-oi"}
	if envelope.From != "" {
		args = append(args, "-f", envelope.From)
	}
	args = append(args, "--")
	args = append(args, envelope.Recipients...)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.program, args...)
	cmd.Stdin = message
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			return &RelayError{
				Err:       fmt.Errorf("%s exited %d: %s", s.program, code, msg),
				Permanent: permanentExitCodes[code],
			}
		}
		return &RelayError{Err: fmt.Errorf("run %s: %w", s.program, err)}
	}

	s.logger.Debug("handed message to sendmail",
		slog.String("program", s.program),
		slog.String("recipients", strings.Join(envelope.Recipients, ",")))
	return nil
}

// Compile-time interface verification.
var _ mailfiler.Transport = (*Sendmail)(nil)
