// Package monitor watches source maildirs and files the messages that
// arrive in them, removing each message once every one of its targets
// succeeded.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/infodancer/mailfiler"
	"github.com/infodancer/mailfiler/filer"
	"github.com/infodancer/mailfiler/maildir"
	"github.com/infodancer/mailfiler/rules"
)

// ErrNoFolders is returned when a Monitor has nothing to watch.
var ErrNoFolders = errors.New("no folders to monitor")

// Options configures a Monitor.
type Options struct {
	Filer  *filer.Filer
	Groups rules.GroupResolver
	// Env seeds every rule set; $MAILDIR resolves watched folder names.
	Env rules.Env
	// RulesPath overrides the per-folder .rules file.
	RulesPath string
	// WatchFiles are extra files whose change forces a rule reload, such
	// as the group database.
	WatchFiles []string
	// Delay between passes. Zero means a single pass.
	Delay time.Duration
	// JustOne files at most one message per folder per pass.
	JustOne bool
	// NoRemove leaves filed messages in their source folder.
	NoRemove bool
	Logger   *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Monitor files messages from a set of watched folders.
type Monitor struct {
	opts    Options
	folders []*WatchedFolder
}

// New resolves the named folders against $MAILDIR and watches them. Every
// folder must be an existing maildir.
func New(names []string, opts Options) (*Monitor, error) {
	if len(names) == 0 {
		return nil, ErrNoFolders
	}
	if opts.Filer == nil {
		opts.Filer = filer.New(filer.Options{Logger: opts.Logger})
	}

	m := &Monitor{opts: opts}
	for _, name := range names {
		path, err := mailfiler.ResolveFolderPath(name, opts.Env["MAILDIR"], "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		src, err := maildir.NewSource(path)
		if err != nil {
			return nil, err
		}
		m.folders = append(m.folders, NewWatchedFolder(src, opts.RulesPath, &m.opts))
	}
	return m, nil
}

// Folders returns the watched folders.
func (m *Monitor) Folders() []*WatchedFolder {
	return m.folders
}

// Pass scans every folder once. Folders are scanned concurrently; a
// folder whose rules cannot be loaded is skipped and reported in the
// returned error.
func (m *Monitor) Pass(ctx context.Context) (ScanStats, error) {
	stats := make([]ScanStats, len(m.folders))
	errs := make([]error, len(m.folders))

	var g errgroup.Group
	for i, w := range m.folders {
		g.Go(func() error {
			stats[i], errs[i] = w.Scan(ctx)
			if errs[i] != nil && !errors.Is(errs[i], context.Canceled) {
				m.opts.logger().Error("scan failed",
					slog.String("folder", w.Path()),
					slog.String("error", errs[i].Error()))
			}
			return nil
		})
	}
	_ = g.Wait()

	var total ScanStats
	for _, s := range stats {
		total.Filed += s.Filed
		total.Failed += s.Failed
		total.Skipped += s.Skipped
	}
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return total, merr.ErrorOrNil()
}

// Run scans the folders until ctx is cancelled, sleeping Delay between
// passes. Without a Delay it makes a single pass.
func (m *Monitor) Run(ctx context.Context) error {
	logger := m.opts.logger()
	logger.Info("monitoring folders",
		slog.Int("folders", len(m.folders)),
		slog.Duration("delay", m.opts.Delay))

	for {
		_, err := m.Pass(ctx)
		if m.opts.Delay <= 0 {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		logger.Debug("sleeping", slog.Duration("delay", m.opts.Delay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.opts.Delay):
		}
	}
}
