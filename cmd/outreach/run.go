package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/app"
	"github.com/nhle/outreach/internal/delivery"
	"github.com/nhle/outreach/internal/metrics"
	"github.com/nhle/outreach/internal/ui/dashboard"
)

func runCommand(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the worker with the terminal dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(configPath())
			if err != nil {
				return err
			}
			defer e.Close()

			if e.cfg.Log.File == "" {
				return errors.New("log.file must be set: the dashboard owns the terminal")
			}

			m := metrics.New()
			w, err := e.newWorker(m)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			serveMetrics(ctx, e, m)

			w.Start()
			p := tea.NewProgram(app.New(w, e.store), tea.WithAltScreen())
			if _, err := p.Run(); err != nil {
				w.Stop()
				return fmt.Errorf("running dashboard: %w", err)
			}
			return nil
		},
	}
}

func workerCommand(configPath func() string) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the delivery worker without a UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(configPath())
			if err != nil {
				return err
			}
			defer e.Close()

			m := metrics.New()
			w, err := e.newWorker(m)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if once {
				defer w.Close()
				return w.RunOnce(ctx)
			}

			serveMetrics(ctx, e, m)
			go logEvents(ctx, e.logger, w.Events())

			if !w.Start() {
				return errors.New("worker did not start")
			}
			e.logger.Info("worker started")
			<-ctx.Done()
			e.logger.Info("shutting down")
			w.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

func serveMetrics(ctx context.Context, e *env, m *metrics.Metrics) {
	addr := e.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	go func() {
		if err := m.Serve(ctx, addr); err != nil {
			e.logger.Error("metrics listener stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	e.logger.Info("serving metrics", zap.String("addr", addr))
}

// logEvents writes worker events to the log until ctx is done.
func logEvents(ctx context.Context, logger *zap.Logger, events <-chan delivery.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			kind, text := dashboard.Describe(ev)
			if kind == "error" {
				logger.Warn(text, zap.String("event", kind))
				continue
			}
			logger.Info(text, zap.String("event", kind))
		}
	}
}
