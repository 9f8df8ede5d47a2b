// Package config holds the mailfiler configuration file format.
//
// The file is TOML:
//
//	[logging]
//	output = "stderr"
//	format = "console"
//	level  = "info"
//
//	[filer]
//	operator = "me@example.com"
//	delay    = "30s"
//
//	[maildirs]
//	root  = "/home/me/Mail"
//	watch = ["incoming"]
//
//	[smtp]
//	addr = "smtp.example.com:587"
//
// Settings from the environment ($MAILDIR, $MAILDB, $EMAIL, $SENDMAIL)
// override the file.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/infodancer/mailfiler/transport"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // "stderr", "stdout", "syslog", or a file path
	Format string `toml:"format"` // "json" or "console"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// FilerConfig controls how messages are filed.
type FilerConfig struct {
	Operator               string `toml:"operator"`                 // envelope sender for forwarded copies
	LogFile                string `toml:"log_file"`                 // per-message filing log, unless $LOGFILE is set by the rules
	Concurrency            int    `toml:"concurrency"`              // concurrent target dispatches per message
	AlertSuppressesDefault bool   `toml:"alert_suppresses_default"` // count $ALERT_TARGETS toward suppressing $DEFAULT
	RulesPath              string `toml:"rules_path"`               // rule file; relative paths are taken inside each watched folder
	Delay                  string `toml:"delay"`                    // pause between monitor passes; empty means a single pass
}

// MaildirsConfig names the mail root and the folders to watch.
type MaildirsConfig struct {
	Root  string   `toml:"root"`
	Watch []string `toml:"watch"`
}

// SMTPConfig configures the relay used for address targets. When Addr
// is empty the sendmail program is used instead.
type SMTPConfig struct {
	Addr      string `toml:"addr"`
	TLS       string `toml:"tls"` // "none", "starttls" or "tls"
	TLSVerify *bool  `toml:"tls_verify"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	HeloName  string `toml:"helo_name"`
}

// SendmailConfig configures the sendmail program transport.
type SendmailConfig struct {
	Program string `toml:"program"`
}

// MailDBConfig locates the address group database.
type MailDBConfig struct {
	Path string `toml:"path"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Addr string `toml:"addr"` // empty disables the endpoint
}

// EncryptionConfig maps folder paths to public key files. Copies filed
// into a listed folder are sealed with its key.
type EncryptionConfig struct {
	Keys map[string]string `toml:"keys"`
}

// Config holds all configuration for the application.
type Config struct {
	Logging    LoggingConfig    `toml:"logging"`
	Filer      FilerConfig      `toml:"filer"`
	Maildirs   MaildirsConfig   `toml:"maildirs"`
	SMTP       SMTPConfig       `toml:"smtp"`
	Sendmail   SendmailConfig   `toml:"sendmail"`
	MailDB     MailDBConfig     `toml:"maildb"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// NewDefault creates a Config with default values. The mail root
// defaults to ~/Mail and the group database to ~/.maildb.
func NewDefault() Config {
	home, _ := os.UserHomeDir()
	cfg := Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Filer: FilerConfig{
			Concurrency: 4,
		},
		SMTP: SMTPConfig{
			TLS: transport.TLSStartTLS,
		},
		Sendmail: SendmailConfig{
			Program: transport.DefaultSendmail,
		},
	}
	if home != "" {
		cfg.Maildirs.Root = filepath.Join(home, "Mail")
		cfg.MailDB.Path = filepath.Join(home, ".maildb")
	}
	return cfg
}

// Load reads the configuration file at path on top of the defaults and
// applies environment overrides. An empty path loads the defaults only.
func Load(path string) (Config, error) {
	cfg := NewDefault()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			log.Printf("WARNING: configuration file '%s' contains unknown keys that will be ignored: %v", path, undecoded)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("MAILDIR"); ok && v != "" {
		c.Maildirs.Root = v
	}
	if v, ok := lookup("MAILDB"); ok && v != "" {
		c.MailDB.Path = v
	}
	if v, ok := lookup("EMAIL"); ok && v != "" {
		c.Filer.Operator = v
	}
	if v, ok := lookup("SENDMAIL"); ok && v != "" {
		c.Sendmail.Program = v
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Filer.Concurrency < 0 {
		return fmt.Errorf("filer.concurrency: must not be negative, got %d", c.Filer.Concurrency)
	}
	if _, err := c.Filer.GetDelay(); err != nil {
		return err
	}
	switch c.SMTP.TLS {
	case "", transport.TLSNone, transport.TLSStartTLS, transport.TLSImplicit:
	default:
		return fmt.Errorf("smtp.tls: unknown mode %q", c.SMTP.TLS)
	}
	if c.SMTP.Password != "" && c.SMTP.Username == "" {
		return fmt.Errorf("smtp.password: set without smtp.username")
	}
	return nil
}

// GetDelay parses the pause between monitor passes.
func (f *FilerConfig) GetDelay() (time.Duration, error) {
	if f.Delay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.Delay)
	if err != nil {
		return 0, fmt.Errorf("filer.delay: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("filer.delay: must not be negative, got %s", f.Delay)
	}
	return d, nil
}

// GetTLSVerify reports whether the relay certificate is verified
// (default: true).
func (s *SMTPConfig) GetTLSVerify() bool {
	if s.TLSVerify == nil {
		return true
	}
	return *s.TLSVerify
}

// Transport returns the relay settings for the transport package.
func (s *SMTPConfig) Transport() transport.SMTPConfig {
	return transport.SMTPConfig{
		Addr:      s.Addr,
		TLS:       s.TLS,
		TLSVerify: s.GetTLSVerify(),
		Username:  s.Username,
		Password:  s.Password,
		HeloName:  s.HeloName,
	}
}
