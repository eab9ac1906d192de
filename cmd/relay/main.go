package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cmdpkg "github.com/stupiduntilnot/tgrelay/internal/commander"
	"github.com/stupiduntilnot/tgrelay/internal/config"
	"github.com/stupiduntilnot/tgrelay/internal/control"
	"github.com/stupiduntilnot/tgrelay/internal/db"
	"github.com/stupiduntilnot/tgrelay/internal/dispatch"
	"github.com/stupiduntilnot/tgrelay/internal/dummy"
	"github.com/stupiduntilnot/tgrelay/internal/logger"
	"github.com/stupiduntilnot/tgrelay/internal/metrics"
	modelpkg "github.com/stupiduntilnot/tgrelay/internal/model"
	"github.com/stupiduntilnot/tgrelay/internal/openai"
	"github.com/stupiduntilnot/tgrelay/internal/session"
	"github.com/stupiduntilnot/tgrelay/internal/stats"
	"github.com/stupiduntilnot/tgrelay/internal/telegram"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, config.ErrStartupConfigMissing) {
			logger.Error("refusing to start", "err", err)
		} else {
			logger.Error("relay failed", "err", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile  string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Relay Telegram messages to an OpenAI-compatible chat model",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			cfg, err := config.LoadRelayConfig()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			logger.Configure(cfg.LogLevel, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a KEY=VALUE file loaded before reading the environment")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	return cmd
}

// run wires the relay from cfg and polls until ctx is cancelled.
func run(ctx context.Context, cfg config.RelayConfig) error {
	var database *sql.DB
	if cfg.EventDBPath != "" {
		var err error
		database, err = db.OpenDB(cfg.EventDBPath)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := db.InitSchema(database); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	journal := db.NewJournal(database)
	if err := journal.Start(map[string]any{
		"role":        "relay",
		"pid":         os.Getpid(),
		"instance_id": cfg.InstanceID,
		"provider":    cfg.ModelProvider,
		"source":      cfg.Commander,
	}); err != nil {
		logger.Warn("failed to log process.started", "err", err)
	}

	m := metrics.New(nil)
	var serverDone chan struct{}
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, m)
		serverDone = make(chan struct{})
		go func() {
			defer close(serverDone)
			if err := srv.Run(ctx); err != nil {
				logger.Error("metrics server stopped", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	source, err := newCommander(&cfg)
	if err != nil {
		return fmt.Errorf("failed to init commander: %w", err)
	}
	provider, err := newModelProvider(&cfg)
	if err != nil {
		return fmt.Errorf("failed to init model provider: %w", err)
	}

	registry := modelpkg.DefaultRegistry()
	counters := stats.New(time.Now())
	dispatcher, err := dispatch.New(dispatch.Deps{
		Store:        session.NewStore(registry, counters),
		Registry:     registry,
		Counters:     counters,
		Provider:     provider,
		Out:          source,
		SystemPrompt: cfg.SystemPrompt,
		Journal:      journal,
		Metrics:      m,
	})
	if err != nil {
		return err
	}

	r := &relay{
		source:       source,
		handler:      dispatcher,
		journal:      journal,
		metrics:      m,
		circuit:      control.NewCircuitBreaker(5, 30*time.Second),
		pollTimeout:  cfg.Timeout,
		retryBackoff: time.Duration(cfg.SleepSeconds) * time.Second,
		sleep:        sleepCtx,
	}
	if cfg.Commander == config.BackendDummy {
		// Scripted sources return immediately instead of long-polling.
		r.idleBackoff = r.retryBackoff
	}

	logger.Info("relay running",
		"id", cfg.InstanceID,
		"default_model", registry.DefaultLabel(),
		"provider", cfg.ModelProvider,
		"source", cfg.Commander,
	)
	handled := r.loop(ctx)

	snap := counters.Snapshot()
	if _, err := journal.Log(nil, db.EventProcessStopped, map[string]any{
		"handled":  handled,
		"messages": snap.TotalMessages,
		"errors":   snap.TotalErrors,
		"users":    snap.KnownUsers,
	}); err != nil {
		logger.Warn("failed to log process.stopped", "err", err)
	}
	if serverDone != nil {
		<-serverDone
	}
	logger.Info("relay stopped", "handled", handled)
	return nil
}

// messageHandler is satisfied by *dispatch.Dispatcher.
type messageHandler interface {
	Handle(ctx context.Context, msg *cmdpkg.Message)
}

type relay struct {
	source  cmdpkg.Commander
	handler messageHandler
	journal *db.Journal
	metrics *metrics.Metrics
	circuit *control.CircuitBreaker

	pollTimeout  int
	retryBackoff time.Duration
	idleBackoff  time.Duration
	sleep        func(ctx context.Context, d time.Duration)
}

// loop polls the source until ctx is done, handing each message to its
// own goroutine. It returns after every in-flight handler has finished and
// reports how many messages were dispatched.
func (r *relay) loop(ctx context.Context) uint64 {
	var (
		wg      sync.WaitGroup
		offset  int64
		handled uint64
	)
	// Handlers outlive the poll context so replies in flight at shutdown
	// are still delivered.
	handlerCtx := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		prevState := r.circuit.State()
		if !r.circuit.Allow(time.Now()) {
			r.sleep(ctx, r.circuit.Remaining(time.Now()))
			continue
		}
		if prevState == control.CircuitOpen && r.circuit.State() == control.CircuitHalfOpen {
			logger.Info("circuit half-open, probing", "error_class", r.circuit.OpenedClass())
			r.logEvent(db.EventCircuitHalfOpen, map[string]any{"error_class": r.circuit.OpenedClass()})
		}

		updates, err := r.source.GetUpdates(ctx, offset, r.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			errClass := control.ClassifyPollError(err)
			logger.Warn("getUpdates failed", "class", errClass, "err", err)
			r.logEvent(db.EventPollFailed, map[string]any{
				"error_class": errClass,
				"error":       logger.Truncate(err.Error(), 300),
			})
			if r.circuit.RecordFailure(errClass, time.Now()) {
				logger.Error("circuit opened", "error_class", errClass, "cooldown", r.circuit.Cooldown)
				r.logEvent(db.EventCircuitOpened, map[string]any{
					"error_class":      errClass,
					"threshold":        r.circuit.Threshold,
					"cooldown_seconds": int(r.circuit.Cooldown.Seconds()),
				})
			}
			r.sleep(ctx, r.retryBackoff)
			continue
		}
		if r.circuit.RecordSuccess() {
			logger.Info("circuit closed")
			r.logEvent(db.EventCircuitClosed, map[string]any{"recovered": true})
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			if update.Message == nil {
				continue
			}
			msg := update.Message
			handled++
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer r.metrics.TrackHandler()()
				r.handler.Handle(handlerCtx, msg)
			}()
		}
		if len(updates) == 0 && r.idleBackoff > 0 {
			r.sleep(ctx, r.idleBackoff)
		}
	}

	logger.Info("shutting down, waiting for in-flight messages")
	wg.Wait()
	return handled
}

func (r *relay) logEvent(eventType string, payload map[string]any) {
	if _, err := r.journal.Log(nil, eventType, payload); err != nil {
		logger.Warn("journal write failed", "event", eventType, "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func newCommander(cfg *config.RelayConfig) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case config.BackendTelegram:
		return telegram.NewClient(cfg.TelegramAPIBase, time.Duration(cfg.Timeout+20)*time.Second), nil
	case config.BackendDummy:
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newModelProvider(cfg *config.RelayConfig) (modelpkg.Provider, error) {
	switch cfg.ModelProvider {
	case config.BackendOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.APIBaseURL,
			Timeout:     cfg.CompletionTimeout,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}), nil
	case config.BackendDummy:
		return dummy.NewProvider(cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}
