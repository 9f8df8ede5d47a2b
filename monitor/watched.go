package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infodancer/mailfiler"
	"github.com/infodancer/mailfiler/message"
	"github.com/infodancer/mailfiler/metrics"
	"github.com/infodancer/mailfiler/rules"
)

// DefaultRulesName is the rule file looked up inside each watched folder.
const DefaultRulesName = ".rules"

// loadedRules is an immutable snapshot of a rule set and the file
// versions it was loaded from.
type loadedRules struct {
	set    *rules.RuleSet
	stamps stamps
}

// WatchedFolder is a source folder whose messages are filed by its own
// rule file. The rule set is reloaded when the rule file, any file it
// includes or the group database changes; evaluations already running
// keep the snapshot they started with.
type WatchedFolder struct {
	source    mailfiler.Source
	rulesPath string
	opts      *Options
	logger    *slog.Logger

	rules atomic.Pointer[loadedRules]

	mu      sync.Mutex
	lurking map[string]struct{}
}

// ScanStats summarises one pass over a folder.
type ScanStats struct {
	Filed   int
	Failed  int
	Skipped int
}

// NewWatchedFolder watches source. rulesPath defaults to the .rules file
// inside the folder; a relative rulesPath is taken relative to the folder.
func NewWatchedFolder(source mailfiler.Source, rulesPath string, opts *Options) *WatchedFolder {
	switch {
	case rulesPath == "":
		rulesPath = filepath.Join(source.Path(), DefaultRulesName)
	case !filepath.IsAbs(rulesPath):
		rulesPath = filepath.Join(source.Path(), rulesPath)
	}
	return &WatchedFolder{
		source:    source,
		rulesPath: rulesPath,
		opts:      opts,
		logger:    opts.logger().With(slog.String("folder", source.Path())),
		lurking:   make(map[string]struct{}),
	}
}

// Path returns the source folder location.
func (w *WatchedFolder) Path() string {
	return w.source.Path()
}

// RulesPath returns the rule file location.
func (w *WatchedFolder) RulesPath() string {
	return w.rulesPath
}

// Rules returns the current rule set, reloading it first when any of its
// files changed. A failed reload keeps the previous rule set; the error
// is returned only when there is no previous rule set to fall back on.
func (w *WatchedFolder) Rules(ctx context.Context) (*rules.RuleSet, error) {
	cur := w.rules.Load()
	if cur != nil && !cur.stamps.changed() {
		return cur.set, nil
	}

	// Stamp before reading so a change during the load triggers another.
	paths := []string{w.rulesPath}
	if cur != nil {
		paths = append(paths, cur.set.Files...)
	}
	paths = append(paths, w.opts.WatchFiles...)
	before := takeStamps(paths...)

	rs, err := rules.Load(ctx, w.rulesPath, rules.LoadOptions{
		Groups: w.opts.Groups,
		Env:    w.opts.Env,
		Logger: w.logger,
	})
	if err != nil {
		metrics.RuleLoads.WithLabelValues(metrics.ResultFailure).Inc()
		if cur != nil {
			w.logger.Error("rule reload failed, keeping previous rules",
				slog.String("rules", w.rulesPath),
				slog.String("error", err.Error()))
			// Remember the failed version so it is not reloaded every pass.
			w.rules.Store(&loadedRules{set: cur.set, stamps: before})
			return cur.set, nil
		}
		return nil, err
	}

	for _, f := range rs.Files {
		if _, ok := before[f]; !ok {
			before[f] = stampOf(f)
		}
	}
	w.rules.Store(&loadedRules{set: rs, stamps: before})
	metrics.RuleLoads.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.RulesLoaded.WithLabelValues(w.Path()).Set(float64(len(rs.Rules)))
	w.logger.Info("loaded rules",
		slog.String("rules", w.rulesPath),
		slog.Int("count", len(rs.Rules)))
	return rs, nil
}

// Lurking returns the number of messages that failed to file and are
// skipped until Flush.
func (w *WatchedFolder) Lurking() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.lurking)
}

// Flush forgets the lurking messages so they are tried again.
func (w *WatchedFolder) Flush() {
	w.mu.Lock()
	w.lurking = make(map[string]struct{})
	w.mu.Unlock()
	metrics.LurkingMessages.WithLabelValues(w.Path()).Set(0)
}

func (w *WatchedFolder) isLurking(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.lurking[key]
	return ok
}

func (w *WatchedFolder) setLurking(key string, lurk bool) {
	w.mu.Lock()
	if lurk {
		w.lurking[key] = struct{}{}
	} else {
		delete(w.lurking, key)
	}
	n := len(w.lurking)
	w.mu.Unlock()
	metrics.LurkingMessages.WithLabelValues(w.Path()).Set(float64(n))
}

// Scan files the messages in the folder, one at a time. Messages that
// were fully filed are removed (unless NoRemove is set); the rest are
// left in place, with any flag changes saved, and skipped by later scans.
// With JustOne set at most one message is filed. Scan stops between
// messages when ctx is cancelled.
func (w *WatchedFolder) Scan(ctx context.Context) (ScanStats, error) {
	var stats ScanStats
	start := time.Now()
	defer func() {
		metrics.ScanDuration.WithLabelValues(w.Path()).Observe(time.Since(start).Seconds())
	}()

	rs, err := w.Rules(ctx)
	if err != nil {
		return stats, err
	}

	infos, err := w.source.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("list %s: %w", w.Path(), err)
	}

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if w.isLurking(info.Key) {
			stats.Skipped++
			continue
		}

		if w.fileOne(ctx, rs, info) {
			stats.Filed++
		} else {
			stats.Failed++
		}
		if w.opts.JustOne {
			break
		}
	}

	if stats.Filed > 0 || stats.Failed > 0 {
		w.logger.Info("filtered messages",
			slog.Int("filed", stats.Filed),
			slog.Int("failed", stats.Failed),
			slog.Int("skipped", stats.Skipped),
			slog.Duration("elapsed", time.Since(start)))
	}
	return stats, nil
}

// fileOne files a single message and reports whether it left the folder.
func (w *WatchedFolder) fileOne(ctx context.Context, rs *rules.RuleSet, info mailfiler.MessageInfo) bool {
	logger := w.logger.With(slog.String("key", info.Key))

	msg, err := w.readMessage(ctx, info)
	if err != nil {
		logger.Warn("cannot read message, lurking", slog.String("error", err.Error()))
		w.setLurking(info.Key, true)
		return false
	}

	o := w.opts.Filer.File(ctx, rs, msg, w.Path())

	if o.AllDelivered && !o.KeptInSource && !w.opts.NoRemove {
		if err := w.source.Remove(context.WithoutCancel(ctx), info.Key); err != nil {
			logger.Error("filed but not removed", slog.String("error", err.Error()))
			w.setLurking(info.Key, true)
			return false
		}
		w.setLurking(info.Key, false)
		return true
	}

	if msg.Flags != info.Flags {
		if err := w.source.SetFlags(context.WithoutCancel(ctx), info.Key, msg.Flags); err != nil {
			logger.Warn("cannot save flags", slog.String("error", err.Error()))
		}
	}
	w.setLurking(info.Key, true)

	if !o.AllDelivered {
		attrs := []any{slog.String("filing_id", o.ID)}
		if o.Err != nil {
			attrs = append(attrs, slog.String("error", o.Err.Error()))
		}
		logger.Warn("message not filed, lurking", attrs...)
		return false
	}
	return true
}

func (w *WatchedFolder) readMessage(ctx context.Context, info mailfiler.MessageInfo) (*message.Message, error) {
	rc, err := w.source.Open(ctx, info.Key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	msg, err := message.Parse(rc)
	if err != nil {
		return nil, err
	}
	msg.Flags = info.Flags
	return msg, nil
}
