package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"deadlined/internal/config"
	"deadlined/internal/deadline"
	"deadlined/internal/storage"
	logx "deadlined/pkg/logx"
)

var logxNop = logx.Nop()

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deadlined.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

type firing struct {
	key string
	at  time.Duration
}

// fireLog records handler calls relative to start. fail lists how many times
// each key fails before succeeding.
type fireLog struct {
	start time.Time

	mu    sync.Mutex
	calls []firing
	fail  map[string]int
}

func newFireLog(fail map[string]int) *fireLog {
	return &fireLog{start: time.Now(), fail: fail}
}

func (f *fireLog) handle(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, firing{key: key, at: time.Since(f.start)})
	if f.fail[key] > 0 {
		f.fail[key]--
		return false
	}
	return true
}

func (f *fireLog) snapshot() []firing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func startApp(t *testing.T, path string, h Handler) *App {
	t.Helper()
	a, err := New(path, WithoutWatch(), WithHandler(h))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a
}

func TestAppFiresConfiguredTimers(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		path := writeConfig(t, `
logging:
  level: error
timers:
  - key: once
    after: 5s
  - key: tick
    schedule: "every:10s"
`)
		log := newFireLog(nil)
		a := startApp(t, path, log.handle)

		time.Sleep(25 * time.Second)
		synctest.Wait()
		if err := a.Stop(context.Background(), StopAppStop); err != nil {
			t.Fatalf("Stop: %v", err)
		}

		want := []firing{{"once", 5 * time.Second}, {"tick", 10 * time.Second}, {"tick", 20 * time.Second}}
		if got := log.snapshot(); !slices.Equal(got, want) {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	})
}

func TestAppApplyReconcilesTimers(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		path := writeConfig(t, `
logging:
  level: error
timers:
  - key: a
    after: 1h
  - key: b
    after: 1h
`)
		log := newFireLog(nil)
		a := startApp(t, path, log.handle)
		defer a.Stop(context.Background(), StopAppStop)

		bBefore, ok := a.Armed("b")
		if !ok {
			t.Fatal("b not armed")
		}

		time.Sleep(time.Minute)
		next, err := config.Decode("reload.yaml", []byte(`
logging:
  level: error
timers:
  - key: b
    after: 1h
  - key: c
    after: 1s
`))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if err := a.Apply(next); err != nil {
			t.Fatalf("Apply: %v", err)
		}

		if _, ok := a.Armed("a"); ok {
			t.Error("a still armed after removal")
		}
		if got, _ := a.Armed("b"); !got.Equal(bBefore) {
			t.Errorf("b deadline = %v, want unchanged %v", got, bBefore)
		}
		if got, ok := a.Armed("c"); !ok || !got.Equal(time.Now().Add(time.Second)) {
			t.Errorf("c deadline = %v (armed %v), want reload time + 1s", got, ok)
		}

		time.Sleep(2 * time.Second)
		synctest.Wait()
		want := []firing{{"c", time.Minute + time.Second}}
		if got := log.snapshot(); !slices.Equal(got, want) {
			t.Fatalf("calls = %v, want %v", got, want)
		}
		if s := a.Snapshot(); s.Cancelled != 1 || s.Pending != 1 {
			t.Fatalf("snapshot cancelled=%d pending=%d, want 1 and 1", s.Cancelled, s.Pending)
		}

		// Re-applying the same config is a no-op.
		if err := a.Apply(next); err != nil {
			t.Fatalf("Apply again: %v", err)
		}
		if got, _ := a.Armed("b"); !got.Equal(bBefore) {
			t.Errorf("b re-armed by a no-op apply")
		}
	})
}

func TestAppRetriesAndRecordsHistory(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		dir := t.TempDir()
		path := writeConfig(t, `
logging:
  level: error
scheduler:
  retry_base: 1s
  retry_jitter: 0
history:
  driver: file
  path: `+filepath.Join(dir, "history")+`
timers:
  - key: flaky
    after: 1s
`)
		log := newFireLog(map[string]int{"flaky": 2})
		a := startApp(t, path, log.handle)
		defer a.Stop(context.Background(), StopAppStop)

		time.Sleep(10 * time.Second)
		synctest.Wait()

		want := []firing{{"flaky", time.Second}, {"flaky", 2 * time.Second}, {"flaky", 4 * time.Second}}
		if got := log.snapshot(); !slices.Equal(got, want) {
			t.Fatalf("calls = %v, want %v", got, want)
		}

		runs, err := a.RecentRuns(context.Background(), 10)
		if err != nil {
			t.Fatalf("RecentRuns: %v", err)
		}
		var outcomes []string
		for _, r := range runs {
			outcomes = append(outcomes, r.Outcome)
		}
		wantOutcomes := []string{string(deadline.OutcomeRetry), string(deadline.OutcomeRetry), string(deadline.OutcomeDone)}
		if !slices.Equal(outcomes, wantOutcomes) {
			t.Fatalf("outcomes = %v, want %v", outcomes, wantOutcomes)
		}
		if runs[2].Attempt != 3 {
			t.Fatalf("final attempt = %d, want 3", runs[2].Attempt)
		}

		s := a.Snapshot()
		if s.Retries != 2 || s.Fired != 1 || s.Pending != 0 {
			t.Fatalf("snapshot retries=%d fired=%d pending=%d", s.Retries, s.Fired, s.Pending)
		}
	})
}

func TestAppRecentRunsWithoutHistory(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: error\n")
	a, err := New(path, WithoutWatch())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background(), StopAppStop)

	if _, err := a.RecentRuns(context.Background(), 5); err != storage.ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
timers:
  - key: x
    after: 1s
    schedule: "every:1m"
`)
	if _, err := New(path); err == nil {
		t.Fatal("New accepted a timer with two triggers")
	}
}

func TestAppStopIsIdempotent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		path := writeConfig(t, "logging:\n  level: error\n")
		a := startApp(t, path, func(context.Context, string) bool { return true })
		if err := a.Stop(context.Background(), StopSIGTERM); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if err := a.Stop(context.Background(), StopSIGINT); err != nil {
			t.Fatalf("second Stop: %v", err)
		}
		select {
		case <-a.Done():
		default:
			t.Fatal("Done not closed after Stop")
		}
		if s := a.Snapshot(); s.State != deadline.StateClosed.String() {
			t.Fatalf("state = %s, want closed", s.State)
		}
	})
}

func TestCheckPlansTimers(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
scheduler:
  timezone: UTC
timers:
  - key: nightly
    schedule: "0 3 * * *"
  - key: soon
    after: 90s
  - key: past
    at: "2020-01-01T00:00:00Z"
`)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	plans, err := Check(path, now)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	want := map[string]time.Time{
		"nightly": time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC),
		"soon":    now.Add(90 * time.Second),
		"past":    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if len(plans) != len(want) {
		t.Fatalf("plans = %d, want %d", len(plans), len(want))
	}
	for _, p := range plans {
		if !p.Next.Equal(want[p.Key]) {
			t.Errorf("%s next = %v, want %v", p.Key, p.Next, want[p.Key])
		}
	}
}

func TestHistoryReadsStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, "history:\n  driver: sqlite\n  path: "+filepath.Join(dir, "runs.db")+"\n")

	if _, err := History(context.Background(), writeConfig(t, "{}\n"), 5); err != storage.ErrDisabled {
		t.Fatalf("History without store: err = %v, want ErrDisabled", err)
	}

	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(dir, "runs.db"), BusyTimeout: time.Second}, logxNop)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, key := range []string{"a", "b", "c"} {
		rec := storage.RunRecord{At: at.Add(time.Duration(i) * time.Second), Key: key, Outcome: string(deadline.OutcomeDone), Attempt: 1}
		if err := st.AppendRun(context.Background(), rec); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	runs, err := History(context.Background(), path, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(runs) != 2 || runs[0].Key != "b" || runs[1].Key != "c" {
		t.Fatalf("runs = %+v, want b then c", runs)
	}
}

func TestAppDebugServer(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: error
debug:
  enabled: true
  addr: "127.0.0.1:0"
timers:
  - key: later
    after: 1h
`)
	a := startApp(t, path, func(context.Context, string) bool { return true })
	defer a.Stop(context.Background(), StopAppStop)

	var addr string
	for until := time.Now().Add(5 * time.Second); addr == "" && time.Now().Before(until); {
		if addr = a.DebugAddr(); addr == "" {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if addr == "" {
		t.Fatal("debug server did not start")
	}

	resp, err := http.Get("http://" + addr + "/debug/snapshot")
	if err != nil {
		t.Fatalf("GET snapshot: %v", err)
	}
	defer resp.Body.Close()
	var snap deadline.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Name != "timers" || snap.Pending != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
