package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/infodancer/mailfiler"
	mferrors "github.com/infodancer/mailfiler/errors"
)

// TLS modes for SMTPConfig.TLS.
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
)

// SMTPConfig configures an SMTP relay.
type SMTPConfig struct {
	// Addr is host:port of the relay.
	Addr string
	// TLS is one of TLSNone, TLSStartTLS or TLSImplicit.
	TLS       string
	TLSVerify bool
	// Username and Password enable AUTH PLAIN when Username is set.
	Username string
	Password string
	// HeloName defaults to the local hostname.
	HeloName string
}

// SMTP sends messages through an SMTP relay.
type SMTP struct {
	config SMTPConfig
	logger *slog.Logger
}

// NewSMTP returns an SMTP transport.
func NewSMTP(config SMTPConfig, logger *slog.Logger) *SMTP {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TLS == "" {
		config.TLS = TLSStartTLS
	}
	return &SMTP{config: config, logger: logger}
}

func (t *SMTP) dial() (*smtp.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !t.config.TLSVerify,
	}
	switch t.config.TLS {
	case TLSNone:
		return smtp.Dial(t.config.Addr)
	case TLSStartTLS:
		return smtp.DialStartTLS(t.config.Addr, tlsConfig)
	case TLSImplicit:
		return smtp.DialTLS(t.config.Addr, tlsConfig)
	}
	return nil, &RelayError{Err: fmt.Errorf("unknown TLS mode %q", t.config.TLS), Permanent: true}
}

// Send implements mailfiler.Transport.
func (t *SMTP) Send(ctx context.Context, envelope mailfiler.Envelope, message io.Reader) error {
	if t.config.Addr == "" {
		return mferrors.ErrTransportNotConfigured
	}
	if len(envelope.Recipients) == 0 {
		return mferrors.ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(message)
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}

	c, err := t.dial()
	if err != nil {
		// A RelayError from dial already carries its classification.
		var relayErr *RelayError
		if errors.As(err, &relayErr) {
			return relayErr
		}
		// Connection errors are temporary (network issue, server down)
		return &RelayError{Err: fmt.Errorf("connect to %s: %w", t.config.Addr, err)}
	}
	defer func() { _ = c.Close() }()

	// Closing the client aborts a transaction stuck on a slow relay.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	helo := t.config.HeloName
	if helo == "" {
		helo, _ = os.Hostname()
	}
	if helo != "" {
		if err := c.Hello(helo); err != nil {
			return &RelayError{Err: fmt.Errorf("hello: %w", err), Permanent: IsPermanentError(err)}
		}
	}

	if t.config.Username != "" {
		auth := sasl.NewPlainClient("", t.config.Username, t.config.Password)
		if err := c.Auth(auth); err != nil {
			return &RelayError{Err: fmt.Errorf("authenticate: %w", err), Permanent: IsPermanentError(err)}
		}
	}

	if err := c.Mail(envelope.From, nil); err != nil {
		return &RelayError{Err: fmt.Errorf("set sender: %w", err), Permanent: IsPermanentError(err)}
	}
	for _, rcpt := range envelope.Recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return &RelayError{Err: fmt.Errorf("set recipient %s: %w", rcpt, err), Permanent: IsPermanentError(err)}
		}
	}

	wc, err := c.Data()
	if err != nil {
		return &RelayError{Err: fmt.Errorf("start data: %w", err), Permanent: IsPermanentError(err)}
	}
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return &RelayError{Err: fmt.Errorf("write message: %w", err)}
	}
	if err := wc.Close(); err != nil {
		return &RelayError{Err: fmt.Errorf("finish data: %w", err), Permanent: IsPermanentError(err)}
	}

	if err := c.Quit(); err != nil {
		// Message already accepted
		t.logger.Warn("smtp quit failed", slog.String("relay", t.config.Addr), slog.String("error", err.Error()))
	}
	t.logger.Debug("relayed message",
		slog.String("relay", t.config.Addr),
		slog.Int("recipients", len(envelope.Recipients)),
		slog.Int("bytes", len(data)))
	return nil
}

// Compile-time interface verification.
var _ mailfiler.Transport = (*SMTP)(nil)
