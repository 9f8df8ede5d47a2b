package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/infodancer/mailfiler/monitor"
)

func monitorCmd(a *app) *cobra.Command {
	var (
		justOne     bool
		noRemove    bool
		delay       time.Duration
		rulesPath   string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "monitor [folder...]",
		Short: "Watch maildirs and file arriving messages",
		Long: `Watch the named maildirs (default: maildirs.watch from the configuration)
and file each message by the folder's .rules file. Messages whose every
target succeeded are removed; the rest are left in place and skipped until
the next SIGHUP.

Folder names are resolved against $MAILDIR.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			names := args
			if len(names) == 0 {
				names = a.cfg.Maildirs.Watch
			}
			if !cmd.Flags().Changed("delay") {
				d, err := a.cfg.Filer.GetDelay()
				if err != nil {
					return err
				}
				delay = d
			}
			if rulesPath == "" {
				rulesPath = a.cfg.Filer.RulesPath
			}
			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Addr
			}

			db := a.optionalGroups(ctx)
			f, err := a.filer(db)
			if err != nil {
				return err
			}
			opts := monitor.Options{
				Filer:      f,
				Env:        a.env(),
				RulesPath:  rulesPath,
				WatchFiles: a.watchFiles(),
				Delay:      delay,
				JustOne:    justOne,
				NoRemove:   noRemove,
				Logger:     a.logger,
			}
			if db != nil {
				opts.Groups = db
			}
			m, err := monitor.New(names, opts)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, a.logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}
			go flushOnHangup(ctx, m, a.logger)

			return m.Run(ctx)
		},
	}
	cmd.Flags().BoolVarP(&justOne, "one", "1", false, "file at most one message per folder per pass")
	cmd.Flags().BoolVarP(&noRemove, "no-remove", "n", false, "leave filed messages in the source folder")
	cmd.Flags().DurationVarP(&delay, "delay", "d", 0, "pause between passes; zero makes a single pass")
	cmd.Flags().StringVarP(&rulesPath, "rules", "R", "", "rule file to use instead of each folder's .rules")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	return srv
}

// flushOnHangup retries lurking messages when the process gets SIGHUP.
func flushOnHangup(ctx context.Context, m *monitor.Monitor, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("flushing lurking messages")
			for _, w := range m.Folders() {
				w.Flush()
			}
		}
	}
}
