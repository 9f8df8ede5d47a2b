package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/infodancer/mailfiler"
	"github.com/infodancer/mailfiler/config"
	"github.com/infodancer/mailfiler/filer"
	"github.com/infodancer/mailfiler/logger"
	"github.com/infodancer/mailfiler/maildb"
	"github.com/infodancer/mailfiler/rules"
	"github.com/infodancer/mailfiler/transport"

	_ "github.com/infodancer/mailfiler/maildir"
	_ "github.com/infodancer/mailfiler/mbox"
)

// app carries the state shared by the subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg     config.Config
	logger  *slog.Logger
	logFile *os.File
	db      *maildb.DB
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	a.logFile, err = logger.Initialize(cfg.Logging)
	if err != nil {
		return err
	}
	a.logger = logger.Get()
	return nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("closing group database", slog.String("error", err.Error()))
		}
		a.db = nil
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

// groups opens the group database once.
func (a *app) groups(ctx context.Context) (*maildb.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := maildb.Open(ctx, a.cfg.MailDB.Path, a.logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

// env is the seed environment for rule files: the process environment
// with the configured mail root, operator and group database filled in.
func (a *app) env() rules.Env {
	env := rules.EnvFromEnviron(os.Environ())
	env["MAILDIR"] = a.cfg.Maildirs.Root
	if a.cfg.MailDB.Path != "" {
		env["MAILDB"] = a.cfg.MailDB.Path
	}
	if a.cfg.Filer.Operator != "" {
		env["EMAIL"] = a.cfg.Filer.Operator
	}
	return env
}

// watchFiles lists the files whose change forces a rule reload.
func (a *app) watchFiles() []string {
	if a.cfg.MailDB.Path == "" {
		return nil
	}
	p := filepath.Clean(a.cfg.MailDB.Path)
	return []string{p, p + "-wal"}
}

func (a *app) transport() mailfiler.Transport {
	if a.cfg.SMTP.Addr != "" {
		return transport.NewSMTP(a.cfg.SMTP.Transport(), a.logger)
	}
	return transport.NewSendmail(a.cfg.Sendmail.Program, a.logger)
}

// folders returns the folder resolver, sealing copies for the folders
// that have a key configured.
func (a *app) folders() (*mailfiler.FolderResolver, error) {
	if len(a.cfg.Encryption.Keys) == 0 {
		return mailfiler.NewFolderResolver(nil), nil
	}
	files := make(map[string]string, len(a.cfg.Encryption.Keys))
	for name, keyFile := range a.cfg.Encryption.Keys {
		path, err := mailfiler.ResolveFolderPath(name, a.cfg.Maildirs.Root, "")
		if err != nil {
			return nil, err
		}
		files[path] = keyFile
	}
	return mailfiler.NewFolderResolver(mailfiler.NewKeyFileProvider(files)), nil
}

func (a *app) filer(db *maildb.DB) (*filer.Filer, error) {
	folders, err := a.folders()
	if err != nil {
		return nil, err
	}
	opts := filer.Options{
		Folders:                folders,
		Transport:              a.transport(),
		Logger:                 a.logger,
		Operator:               a.cfg.Filer.Operator,
		LogFile:                a.cfg.Filer.LogFile,
		Concurrency:            a.cfg.Filer.Concurrency,
		AlertSuppressesDefault: a.cfg.Filer.AlertSuppressesDefault,
	}
	if db != nil {
		opts.Learner = db
	}
	return filer.New(opts), nil
}

// loadRules loads a rule file for one-off commands.
func (a *app) loadRules(ctx context.Context, path string, db *maildb.DB) (*rules.RuleSet, error) {
	opts := rules.LoadOptions{Env: a.env(), Logger: a.logger}
	if db != nil {
		opts.Groups = db
	}
	return rules.Load(ctx, path, opts)
}

// rulesPath resolves the rule file for one-off commands: the flag value,
// else the configured path, else .rules in the mail root.
func (a *app) rulesPath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := a.cfg.Filer.RulesPath; p != "" {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(a.cfg.Maildirs.Root, p)
	}
	return filepath.Join(a.cfg.Maildirs.Root, ".rules")
}

// optionalGroups opens the group database, carrying on without it when
// it is unavailable. Rule files that name a group then fail to load.
func (a *app) optionalGroups(ctx context.Context) *maildb.DB {
	db, err := a.groups(ctx)
	if err != nil {
		a.logger.Warn("address groups unavailable", slog.String("error", err.Error()))
		return nil
	}
	return db
}
