package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	cmdpkg "github.com/stupiduntilnot/tgrelay/internal/commander"
	"github.com/stupiduntilnot/tgrelay/internal/config"
	"github.com/stupiduntilnot/tgrelay/internal/control"
	"github.com/stupiduntilnot/tgrelay/internal/db"
	"github.com/stupiduntilnot/tgrelay/internal/dispatch"
	"github.com/stupiduntilnot/tgrelay/internal/dummy"
	"github.com/stupiduntilnot/tgrelay/internal/metrics"
	modelpkg "github.com/stupiduntilnot/tgrelay/internal/model"
	"github.com/stupiduntilnot/tgrelay/internal/session"
	"github.com/stupiduntilnot/tgrelay/internal/stats"
)

func testJournal(t *testing.T) (*sql.DB, *db.Journal) {
	t.Helper()
	database, err := db.OpenDB(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.InitSchema(database); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = database.Close() })
	journal := db.NewJournal(database)
	if err := journal.Start(map[string]any{"role": "relay"}); err != nil {
		t.Fatal(err)
	}
	return database, journal
}

func countEvents(t *testing.T, database *sql.DB, eventType string) int {
	t.Helper()
	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM events WHERE event_type = ?`, eventType).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func newTestDispatcher(t *testing.T, out cmdpkg.Commander, provider modelpkg.Provider) *dispatch.Dispatcher {
	t.Helper()
	registry := modelpkg.DefaultRegistry()
	counters := stats.New(time.Now())
	d, err := dispatch.New(dispatch.Deps{
		Store:    session.NewStore(registry, counters),
		Registry: registry,
		Counters: counters,
		Provider: provider,
		Out:      out,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestRelayLoop_DispatchesMessages(t *testing.T) {
	source, err := dummy.NewCommander("msg:hello,msg:/stats,ok", "ok")
	if err != nil {
		t.Fatal(err)
	}
	provider, err := dummy.NewProvider("msg:hi there")
	if err != nil {
		t.Fatal(err)
	}

	r := &relay{
		source:      source,
		handler:     newTestDispatcher(t, source, provider),
		metrics:     metrics.New(nil),
		circuit:     control.NewCircuitBreaker(5, time.Second),
		idleBackoff: 5 * time.Millisecond,
		sleep:       sleepCtx,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan uint64, 1)
	go func() { done <- r.loop(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(source.Replies()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	handled := <-done

	if handled != 2 {
		t.Fatalf("expected 2 handled messages, got %d", handled)
	}
	replies := strings.Join(source.Replies(), "\n---\n")
	if !strings.Contains(replies, "hi there") {
		t.Fatalf("missing completion reply in %q", replies)
	}
	if !strings.Contains(replies, "Bot Statistics") {
		t.Fatalf("missing stats reply in %q", replies)
	}
}

func TestRelayLoop_CircuitOpensOnRepeatedPollFailures(t *testing.T) {
	database, journal := testJournal(t)
	source, err := dummy.NewCommander("err", "ok")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &relay{
		source:  source,
		handler: handlerFunc(func(context.Context, *cmdpkg.Message) { t.Error("no message expected") }),
		journal: journal,
		circuit: control.NewCircuitBreaker(2, time.Hour),
	}
	var sleeps []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) {
		sleeps = append(sleeps, d)
		if r.circuit.State() == control.CircuitOpen {
			cancel()
		}
	}
	r.retryBackoff = 10 * time.Millisecond

	if handled := r.loop(ctx); handled != 0 {
		t.Fatalf("expected nothing handled, got %d", handled)
	}
	if got := countEvents(t, database, db.EventPollFailed); got != 2 {
		t.Fatalf("expected 2 poll.failed events, got %d", got)
	}
	if got := countEvents(t, database, db.EventCircuitOpened); got != 1 {
		t.Fatalf("expected 1 circuit.opened event, got %d", got)
	}
	if len(sleeps) != 2 || sleeps[0] != 10*time.Millisecond {
		t.Fatalf("unexpected sleeps: %v", sleeps)
	}
}

type handlerFunc func(ctx context.Context, msg *cmdpkg.Message)

func (f handlerFunc) Handle(ctx context.Context, msg *cmdpkg.Message) { f(ctx, msg) }

// batchSource returns one scripted batch per poll, then cancels.
type batchSource struct {
	cmdpkg.Commander
	mu      sync.Mutex
	batches [][]cmdpkg.Update
	offsets []int64
	cancel  context.CancelFunc
}

func (s *batchSource) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, offset)
	if len(s.batches) == 0 {
		s.cancel()
		return nil, ctx.Err()
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func TestRelayLoop_AdvancesOffsetAndWaitsForHandlers(t *testing.T) {
	text := "slow"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &batchSource{
		batches: [][]cmdpkg.Update{
			{{UpdateID: 10}, {UpdateID: 11, Message: &cmdpkg.Message{Chat: cmdpkg.Chat{ID: 3}, Text: &text}}},
			{},
		},
		cancel: cancel,
	}

	var finished atomic.Bool
	var sawCancelled atomic.Bool
	r := &relay{
		source: source,
		handler: handlerFunc(func(ctx context.Context, msg *cmdpkg.Message) {
			time.Sleep(50 * time.Millisecond)
			if ctx.Err() != nil {
				sawCancelled.Store(true)
			}
			finished.Store(true)
		}),
		circuit: control.NewCircuitBreaker(5, time.Second),
		sleep:   sleepCtx,
	}

	if handled := r.loop(ctx); handled != 1 {
		t.Fatalf("expected 1 handled message, got %d", handled)
	}
	if !finished.Load() {
		t.Fatal("loop returned before the in-flight handler finished")
	}
	if sawCancelled.Load() {
		t.Fatal("handler context should survive shutdown")
	}
	if len(source.offsets) < 2 || source.offsets[0] != 0 || source.offsets[1] != 12 {
		t.Fatalf("unexpected offsets: %v", source.offsets)
	}
}

func TestRun_DummyBackendsWriteJournal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	cfg := config.RelayConfig{
		InstanceID:           "test-instance",
		SleepSeconds:         1,
		SystemPrompt:         config.DefaultSystemPrompt,
		Commander:            config.BackendDummy,
		ModelProvider:        config.BackendDummy,
		DummyCommanderScript: "msg:hello,ok",
		DummySendScript:      "ok",
		DummyProviderScript:  "msg:hi",
		EventDBPath:          dbPath,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := run(ctx, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}

	database, err := db.OpenDB(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	for _, eventType := range []string{
		db.EventProcessStarted,
		db.EventMessageReceived,
		db.EventTurnCompleted,
		db.EventProcessStopped,
	} {
		if got := countEvents(t, database, eventType); got != 1 {
			t.Fatalf("expected 1 %s event, got %d", eventType, got)
		}
	}

	var payload string
	if err := database.QueryRow(
		`SELECT payload FROM events WHERE event_type = ?`, db.EventProcessStarted,
	).Scan(&payload); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(payload, `"instance_id":"test-instance"`) || !strings.Contains(payload, `"role":"relay"`) {
		t.Fatalf("unexpected process.started payload: %s", payload)
	}
}

func TestRootCmd_MissingSecretsRefusesToStart(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "relay.env")
	if err := os.WriteFile(envFile, []byte("RELAY_LOG_LEVEL=error\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RELAY_LOG_LEVEL", "error")
	t.Setenv("RELAY_COMMANDER", "telegram")
	t.Setenv("RELAY_MODEL_PROVIDER", "openai")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("SAMBANOVA_API_KEY", "")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--env-file", envFile})
	err := cmd.ExecuteContext(context.Background())
	if !errors.Is(err, config.ErrStartupConfigMissing) {
		t.Fatalf("expected ErrStartupConfigMissing, got %v", err)
	}
}

func TestRootCmd_MissingExplicitEnvFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "nope.env")})
	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "nope.env") {
		t.Fatalf("expected env file error, got %v", err)
	}
}

func TestNewBackends(t *testing.T) {
	cfg := &config.RelayConfig{Commander: "carrier-pigeon", ModelProvider: "oracle"}
	if _, err := newCommander(cfg); err == nil {
		t.Fatal("expected unsupported commander error")
	}
	if _, err := newModelProvider(cfg); err == nil {
		t.Fatal("expected unsupported provider error")
	}

	cfg = &config.RelayConfig{
		Commander:       config.BackendTelegram,
		TelegramAPIBase: "https://api.telegram.org/bottoken",
		Timeout:         30,
		ModelProvider:   config.BackendOpenAI,
		APIKey:          "key",
		APIBaseURL:      "https://api.sambanova.ai/v1",
	}
	if _, err := newCommander(cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := newModelProvider(cfg); err != nil {
		t.Fatal(err)
	}
}
