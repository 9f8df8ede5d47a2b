// Package filer files one message at a time: it evaluates a rule set,
// falls back to the DEFAULT targets, dispatches every accrued target and
// reports whether all of them succeeded.
package filer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/infodancer/mailfiler"
	"github.com/infodancer/mailfiler/errors"
	"github.com/infodancer/mailfiler/message"
	"github.com/infodancer/mailfiler/metrics"
	"github.com/infodancer/mailfiler/rules"
)

// Variables the filer reads from the per-message environment.
const (
	VarDefault      = "DEFAULT"
	VarAlert        = "ALERT"
	VarAlertFormat  = "ALERT_FORMAT"
	VarAlertTargets = "ALERT_TARGETS"
	VarLogFile      = "LOGFILE"
	VarMaildir      = "MAILDIR"
	VarEmail        = "EMAIL"
)

// DefaultConcurrency bounds simultaneous dispatches for one message.
const DefaultConcurrency = 4

// FolderOpener returns the store for a folder target.
type FolderOpener interface {
	Folder(name, mailRoot, source string) (mailfiler.FolderStore, error)
}

// Options configures a Filer.
type Options struct {
	Folders   FolderOpener
	Transport mailfiler.Transport
	Runner    CommandRunner
	Learner   rules.GroupLearner
	Log       *FilingLog
	Logger    *slog.Logger

	// Operator is the address used as sender of forwarded copies. $EMAIL
	// is used when empty.
	Operator string
	// LogFile is the filing log path; $LOGFILE overrides it.
	LogFile     string
	Concurrency int
	// AlertSuppressesDefault makes $ALERT_TARGETS count as accrued
	// targets when deciding whether to fall back to $DEFAULT.
	AlertSuppressesDefault bool
}

// Filer files messages. A Filer holds no per-message state and may be
// used by many goroutines at once.
type Filer struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Filer.
func New(opts Options) *Filer {
	if opts.Folders == nil {
		opts.Folders = mailfiler.NewFolderResolver(nil)
	}
	if opts.Runner == nil {
		opts.Runner = ShellRunner{}
	}
	if opts.Log == nil {
		opts.Log = NewFilingLog()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Filer{opts: opts, logger: logger, now: time.Now}
}

// File evaluates rs against msg and dispatches the resulting targets.
// source is the folder the message came from. msg is modified by action
// targets. Dispatches already started are not cancelled by ctx.
func (f *Filer) File(ctx context.Context, rs *rules.RuleSet, msg *message.Message, source string) *Outcome {
	o := &Outcome{ID: uuid.NewString(), MessageID: msg.MessageID()}
	logger := f.logger.With(slog.String("filing_id", o.ID), slog.String("message_id", o.MessageID))

	s := rules.NewState(msg, rs.NewEnv(), source, logger)
	s.Learner = f.opts.Learner

	ev := rs.Evaluate(ctx, s)
	o.Alert = ev.Alert
	o.Labels = ev.Labels()
	o.ActionErrors = ev.ActionErrors
	metrics.ActionErrors.Add(float64(len(ev.ActionErrors)))

	acc := ev.Deliveries
	accrued := acc.Len()

	if ev.Alert {
		if errs := f.applyTargetList(ctx, s, VarAlertTargets, acc); len(errs) > 0 {
			o.ActionErrors = append(o.ActionErrors, errs...)
		}
		if f.opts.AlertSuppressesDefault {
			accrued = acc.Len()
		}
	}

	if accrued == 0 {
		o.UsedDefault = true
		if errs := f.applyTargetList(ctx, s, VarDefault, acc); len(errs) > 0 {
			o.ActionErrors = append(o.ActionErrors, errs...)
		}
	}

	hv := s.View()
	if acc.Len() == 0 {
		o.Err = errors.ErrNoTargets
		metrics.MessagesFiled.WithLabelValues(metrics.ResultNoTargets).Inc()
		logger.Warn("no targets for message", slog.String("subject", hv.Value("subject")))
		f.record(s, hv, o)
		return o
	}

	o.Results = f.dispatch(context.WithoutCancel(ctx), s, acc.List())

	var merr *multierror.Error
	for _, r := range o.Results {
		if r.Err != nil {
			merr = multierror.Append(merr, r.Err)
		}
	}
	o.Err = merr.ErrorOrNil()
	o.AllDelivered = o.Err == nil
	for _, r := range o.Results {
		if r.Kept {
			o.KeptInSource = true
		}
	}

	if o.AllDelivered {
		metrics.MessagesFiled.WithLabelValues(metrics.ResultSuccess).Inc()
		if o.Alert {
			f.alert(ctx, s, hv, o)
		}
	} else {
		metrics.MessagesFiled.WithLabelValues(metrics.ResultFailure).Inc()
		logger.Warn("message not fully filed",
			slog.Int("failed", len(o.Failed())),
			slog.Int("targets", len(o.Results)),
			slog.String("error", o.Err.Error()))
	}
	f.record(s, hv, o)
	return o
}

// applyTargetList parses the comma-separated target list held in the
// variable name and applies it like a matched rule's targets.
func (f *Filer) applyTargetList(ctx context.Context, s *rules.State, name string, acc *rules.Accrual) []error {
	text := strings.TrimSpace(s.Env[name])
	if text == "" {
		return nil
	}
	targets, err := rules.ParseTargetList(text)
	if err != nil {
		s.Logger.Warn("bad target list", slog.String("variable", name), slog.String("error", err.Error()))
		return []error{fmt.Errorf("$%s: %w", name, err)}
	}
	return rules.ApplyTargets(ctx, s, targets, "", acc)
}

// dispatch sends the message to every delivery, concurrently, and waits
// for all of them.
func (f *Filer) dispatch(ctx context.Context, s *rules.State, deliveries []rules.Delivery) []Result {
	results := make([]Result, len(deliveries))
	msg := s.Message.Clone()
	raw := msg.Bytes()
	env := s.Env.Clone()

	var g errgroup.Group
	g.SetLimit(f.opts.Concurrency)
	for i, d := range deliveries {
		g.Go(func() error {
			start := f.now()
			path, kept, err := f.dispatchOne(ctx, msg, raw, env, s.Source, d)
			metrics.DispatchDuration.WithLabelValues(d.Kind.String()).Observe(time.Since(start).Seconds())

			results[i] = Result{Delivery: d, Path: path, Kept: kept, Delivered: err == nil}
			if err != nil {
				results[i].Err = &DispatchError{Delivery: d, Err: err}
				metrics.DispatchesTotal.WithLabelValues(d.Kind.String(), metrics.ResultFailure).Inc()
				s.Logger.Warn("dispatch failed",
					slog.String("kind", d.Kind.String()),
					slog.String("target", d.String()),
					slog.String("error", err.Error()))
				return nil
			}
			metrics.DispatchesTotal.WithLabelValues(d.Kind.String(), metrics.ResultSuccess).Inc()
			s.Logger.Debug("dispatched",
				slog.String("kind", d.Kind.String()),
				slog.String("target", d.String()),
				slog.String("path", path))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (f *Filer) dispatchOne(ctx context.Context, msg *message.Message, raw []byte, env rules.Env, source string, d rules.Delivery) (path string, kept bool, err error) {
	switch d.Kind {
	case rules.DeliverFolder:
		return f.fileToFolder(ctx, msg, raw, env, source, d)
	case rules.DeliverAddress:
		return "", false, f.forward(ctx, msg, env, d)
	case rules.DeliverPipe:
		return "", false, f.opts.Runner.Run(ctx, d.Dest, env.Environ(), bytes.NewReader(raw))
	}
	return "", false, fmt.Errorf("unknown delivery kind %d", d.Kind)
}

// fileToFolder appends the message to the target folder. Filing into the
// source folder leaves the message where it is and reports it as kept.
func (f *Filer) fileToFolder(ctx context.Context, msg *message.Message, raw []byte, env rules.Env, source string, d rules.Delivery) (string, bool, error) {
	store, err := f.opts.Folders.Folder(d.Dest, env[VarMaildir], source)
	if err != nil {
		return "", false, err
	}
	if source != "" && store.Path() == filepath.Clean(source) {
		return store.Path(), true, nil
	}

	data := raw
	if d.Label != "" && msg.Header.Get("X-Label") != d.Label {
		labelled := msg.Clone()
		labelled.Header.Set("X-Label", d.Label)
		data = labelled.Bytes()
	}
	return store.Path(), false, store.Append(ctx, data, msg.Flags)
}

// forward sends a copy to an address with the operator as sender. The
// Delivered-To header is removed so the receiving side does not see a loop.
func (f *Filer) forward(ctx context.Context, msg *message.Message, env rules.Env, d rules.Delivery) error {
	operator := f.opts.Operator
	if operator == "" {
		operator = env[VarEmail]
	}
	if operator == "" {
		return errors.ErrNoOperatorAddress
	}
	if f.opts.Transport == nil {
		return errors.ErrTransportNotConfigured
	}

	fwd := msg.Clone()
	fwd.Header.Set("Sender", operator)
	fwd.Header.Set("Return-Path", "<"+operator+">")
	fwd.Header.Set("Errors-To", operator)
	fwd.Header.Del("Delivered-To")

	envelope := mailfiler.Envelope{
		From:       operator,
		Recipients: []string{d.Dest},
		QueuedTime: f.now(),
	}
	return f.opts.Transport.Send(ctx, envelope, bytes.NewReader(fwd.Bytes()))
}

// alert runs $ALERT with the formatted summary line on standard input.
func (f *Filer) alert(ctx context.Context, s *rules.State, hv *message.HeaderView, o *Outcome) {
	command := strings.TrimSpace(s.Env[VarAlert])
	if command == "" {
		return
	}
	line := FormatAlert(s.Env[VarAlertFormat], hv, s.Env, o.Labels)
	env := s.Env.Clone()
	env["ALERT_MESSAGE"] = line
	if err := f.opts.Runner.Run(context.WithoutCancel(ctx), command, env.Environ(), strings.NewReader(line+"\n")); err != nil {
		metrics.AlertsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		s.Logger.Warn("alert failed", slog.String("command", command), slog.String("error", err.Error()))
		o.ActionErrors = append(o.ActionErrors, fmt.Errorf("alert: %w", err))
		return
	}
	metrics.AlertsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
}

func (f *Filer) record(s *rules.State, hv *message.HeaderView, o *Outcome) {
	path := s.Env[VarLogFile]
	if path == "" {
		path = f.opts.LogFile
	}
	if path == "" {
		return
	}
	if err := f.opts.Log.Record(path, hv.Text("from"), hv.Text("subject"), o); err != nil {
		s.Logger.Warn("filing log", slog.String("path", path), slog.String("error", err.Error()))
	}
}
