package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  store: insertion
  retry_base: 0s
  max_sleep: 30s
  history_size: 0
history:
  driver: sqlite
  path: ./runs.db
  busy_timeout: 2s
timers:
  - key: backup
    schedule: "0 3 * * *"
  - key: once
    at: "2026-05-01T10:00:00Z"
  - key: soon
    after: 90s
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("cfg.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.History == nil || cfg.History.Driver != "sqlite" || cfg.History.BusyTimeout != "2s" {
		t.Fatalf("history = %+v", cfg.History)
	}
	if len(cfg.Timers) != 3 || cfg.Timers[0].Schedule != "0 3 * * *" || cfg.Timers[2].After != "90s" {
		t.Fatalf("timers = %+v", cfg.Timers)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "unknown json field", path: "c.json", body: `{"logging":{"level":"info"},"bogus":1}`},
		{name: "unknown yaml field", path: "c.yml", body: "scheduler:\n  stor: sorted\n"},
		{name: "trailing json", path: "c.json", body: `{} {}`},
		{name: "bad yaml", path: "c.yaml", body: "timers: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
				t.Fatalf("Decode(%s) accepted %q", tt.path, tt.body)
			}
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("empty.yaml", nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSchedulerResolveDefaults(t *testing.T) {
	t.Parallel()
	got, err := SchedulerConfig{}.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := SchedulerSettings{
		Store:         StoreSorted,
		RetryBase:     DefaultRetryBase,
		RetryMaxDelay: DefaultRetryMaxDelay,
		RetryJitter:   DefaultRetryJitter,
		MaxSleep:      DefaultMaxSleep,
		HistorySize:   DefaultHistorySize,
		Location:      time.Local,
	}
	if got != want {
		t.Fatalf("Resolve() = %+v, want %+v", got, want)
	}
}

func TestSchedulerResolveExplicit(t *testing.T) {
	t.Parallel()
	zero := 0
	jitter := 0.0
	got, err := SchedulerConfig{
		Store:       "Insertion",
		RetryBase:   "0s",
		RetryJitter: &jitter,
		MaxSleep:    "0s",
		HistorySize: &zero,
		Timezone:    "UTC",
	}.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Store != StoreInsertion || got.RetryBase != 0 || got.RetryMaxDelay != 0 || got.RetryJitter != 0 {
		t.Fatalf("Resolve() = %+v", got)
	}
	if got.MaxSleep != DefaultMaxSleep || got.HistorySize != 0 || got.Location != time.UTC {
		t.Fatalf("Resolve() = %+v", got)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	bad := 2.0
	neg := -1
	tests := map[string]struct {
		cfg  Config
		want string
	}{
		"level":          {cfg: Config{Logging: LoggingConfig{Level: "loud"}}, want: "logging.level"},
		"file path":      {cfg: Config{Logging: LoggingConfig{File: LoggingFile{Enabled: true}}}, want: "logging.file.path"},
		"store":          {cfg: Config{Scheduler: SchedulerConfig{Store: "heap"}}, want: "scheduler.store"},
		"retry base":     {cfg: Config{Scheduler: SchedulerConfig{RetryBase: "soon"}}, want: "scheduler.retry_base"},
		"retry order":    {cfg: Config{Scheduler: SchedulerConfig{RetryBase: "2s", RetryMaxDelay: "1s"}}, want: "retry_max_delay"},
		"jitter":         {cfg: Config{Scheduler: SchedulerConfig{RetryJitter: &bad}}, want: "retry_jitter"},
		"history size":   {cfg: Config{Scheduler: SchedulerConfig{HistorySize: &neg}}, want: "history_size"},
		"timezone":       {cfg: Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, want: "scheduler.timezone"},
		"driver":         {cfg: Config{History: &HistoryConfig{Driver: "redis"}}, want: "history.driver"},
		"history path":   {cfg: Config{History: &HistoryConfig{Driver: "file"}}, want: "history.path"},
		"busy":           {cfg: Config{History: &HistoryConfig{Driver: "sqlite", Path: "x", BusyTimeout: "-1s"}}, want: "busy_timeout"},
		"timer key":      {cfg: Config{Timers: []TimerConfig{{After: "1s"}}}, want: "timers[0].key"},
		"duplicate key":  {cfg: Config{Timers: []TimerConfig{{Key: "a", After: "1s"}, {Key: "a", After: "2s"}}}, want: "duplicate"},
		"no trigger":     {cfg: Config{Timers: []TimerConfig{{Key: "a"}}}, want: "exactly one"},
		"two triggers":   {cfg: Config{Timers: []TimerConfig{{Key: "a", After: "1s", Schedule: "5m"}}}, want: "exactly one"},
		"bad schedule":   {cfg: Config{Timers: []TimerConfig{{Key: "a", Schedule: "whenever"}}}, want: "timers[0] (a)"},
		"bad timestamp":  {cfg: Config{Timers: []TimerConfig{{Key: "a", At: "tomorrow"}}}, want: "timestamp"},
		"negative after": {cfg: Config{Timers: []TimerConfig{{Key: "a", After: "-5s"}}}, want: ">= 0"},
		"debug addr":     {cfg: Config{Debug: &DebugConfig{Enabled: true, Addr: "6062"}}, want: "debug.addr"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestTimerSpecAfterIsAnchored(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sp, err := TimerConfig{Key: "a", After: "90s"}.Spec(now, time.UTC)
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}
	if got, _ := sp.Next(now); !got.Equal(now.Add(90 * time.Second)) {
		t.Fatalf("Next = %v", got)
	}
	if sp.Recurring() {
		t.Fatal("after timer reported as recurring")
	}
}

func TestDiffTimers(t *testing.T) {
	t.Parallel()
	oldT := []TimerConfig{
		{Key: "keep", Schedule: "5m"},
		{Key: "change", After: "1m"},
		{Key: "drop", At: "2026-01-01T00:00:00Z"},
		{Key: "also-drop", After: "1s"},
	}
	newT := []TimerConfig{
		{Key: "new", Schedule: "@hourly"},
		{Key: "keep", Schedule: " 5m "},
		{Key: "change", After: "2m"},
	}
	upsert, removed := DiffTimers(oldT, newT)
	var keys []string
	for _, u := range upsert {
		keys = append(keys, u.Key)
	}
	if !slices.Equal(keys, []string{"new", "change"}) {
		t.Fatalf("upsert = %v", keys)
	}
	if !slices.Equal(removed, []string{"also-drop", "drop"}) {
		t.Fatalf("removed = %v", removed)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging:   LoggingConfig{Level: "debug"},
		Scheduler: SchedulerConfig{Store: StoreInsertion},
		History:   &HistoryConfig{Driver: "file", Path: "x"},
		Debug:     &DebugConfig{Enabled: true},
		Timers:    []TimerConfig{{Key: "a", After: "1s"}},
	}
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	if !slices.Equal(changed, []string{"debug", "history", "logging", "scheduler", "timers"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if changed, _ := SummarizeChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

func TestManagerLoad(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "cfg.yaml", sampleYAML)
	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get does not return the loaded config")
	}

	bad := writeFile(t, "bad.json", `{"scheduler":{"store":"heap"}}`)
	if _, err := NewManager(bad).Load(); err == nil || !strings.Contains(err.Error(), "bad.json") {
		t.Fatalf("Load(bad) = %v", err)
	}
}

func TestManagerPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("subscriber did not receive the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed by Unsubscribe")
	}
	m.publish(a) // no subscribers left; must not panic
}

func TestManagerWatchReloads(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "cfg.json", `{"logging":{"level":"info"}}`)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	var validated atomic.Int32
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		validated.Add(1)
		if cfg.Logging.Level == "error" {
			return os.ErrPermission
		}
		return nil
	})
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Keep rewriting until the watcher is up and the reload lands.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := os.WriteFile(p, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("reloaded level = %q", cfg.Logging.Level)
			}
			if m.Get().Logging.Level != "debug" {
				t.Fatal("reload not committed")
			}
			if validated.Load() == 0 {
				t.Fatal("validator not consulted")
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
