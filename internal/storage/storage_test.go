package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deadlined/internal/deadline"
	"deadlined/internal/eventbus"
	logx "deadlined/pkg/logx"
)

var logxNop = logx.Nop()

func openTest(t *testing.T, driver string, keep int) (Store, Config) {
	t.Helper()
	cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "history.db"), Keep: keep, BusyTimeout: time.Second}
	st, err := Open(cfg, logxNop)
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, cfg
}

func record(i int) RunRecord {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return RunRecord{
		At:        base.Add(time.Duration(i) * time.Second),
		Scheduler: "test",
		Key:       fmt.Sprintf("k%d", i),
		Deadline:  base,
		Outcome:   "done",
		Attempt:   1,
		TookMS:    int64(i),
	}
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := openTest(t, driver, 0)

			for i := range 5 {
				if err := st.AppendRun(ctx, record(i)); err != nil {
					t.Fatalf("AppendRun: %v", err)
				}
			}
			got, err := st.RecentRuns(ctx, 3)
			if err != nil {
				t.Fatalf("RecentRuns: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("len = %d, want 3", len(got))
			}
			for i, r := range got {
				want := record(i + 2)
				if r.Key != want.Key || !r.At.Equal(want.At) || !r.Deadline.Equal(want.Deadline) || r.TookMS != want.TookMS {
					t.Fatalf("record %d = %+v, want %+v", i, r, want)
				}
			}

			all, err := st.RecentRuns(ctx, 100)
			if err != nil || len(all) != 5 {
				t.Fatalf("RecentRuns(100) = %d records, %v", len(all), err)
			}
			if none, err := st.RecentRuns(ctx, 0); err != nil || len(none) != 0 {
				t.Fatalf("RecentRuns(0) = %v, %v", none, err)
			}
		})
	}
}

func TestStoreReopenKeepsHistory(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, cfg := openTest(t, driver, 0)
			if err := st.AppendRun(ctx, record(1)); err != nil {
				t.Fatalf("AppendRun: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			again, err := Open(cfg, logxNop)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer again.Close()
			got, err := again.RecentRuns(ctx, 10)
			if err != nil || len(got) != 1 || got[0].Key != "k1" {
				t.Fatalf("after reopen: %+v, %v", got, err)
			}
		})
	}
}

func TestFileStoreCompacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, cfg := openTest(t, "file", 10)
	for i := range compactEvery {
		if err := st.AppendRun(ctx, record(i)); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	got, err := st.RecentRuns(ctx, compactEvery)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 10 || got[9].Key != fmt.Sprintf("k%d", compactEvery-1) {
		t.Fatalf("after compaction: %d records, last %+v", len(got), got[len(got)-1])
	}
	// Appends keep working on the rewritten file.
	if err := st.AppendRun(ctx, record(5000)); err != nil {
		t.Fatalf("AppendRun after compaction: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(filepath.Dir(cfg.Path), "history.runs.jsonl"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := bytes.Count(b, []byte("\n")); n != 11 {
		t.Fatalf("file has %d lines, want 11", n)
	}
}

func TestFileStoreSkipsMalformedLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	runs := filepath.Join(dir, "h.runs.jsonl")
	body := `{"key":"a","outcome":"done"}` + "\n" + "not json\n" + `{"key":"b","outcome":"retry"}` + "\n"
	if err := os.WriteFile(runs, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "h.jsonl")}, logxNop)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	got, err := st.RecentRuns(context.Background(), 10)
	if err != nil || len(got) != 2 || got[1].Outcome != "retry" {
		t.Fatalf("RecentRuns = %+v, %v", got, err)
	}
}

func TestClosedFileStore(t *testing.T) {
	t.Parallel()
	st, _ := openTest(t, "file", 0)
	_ = st.Close()
	if err := st.AppendRun(context.Background(), record(1)); err != ErrClosed {
		t.Fatalf("AppendRun after close = %v", err)
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		cfg     Config
		nilOK   bool
		wantErr bool
	}{
		"empty":          {cfg: Config{}, nilOK: true},
		"none":           {cfg: Config{Driver: "None"}, nilOK: true},
		"unknown":        {cfg: Config{Driver: "redis"}, wantErr: true},
		"file no path":   {cfg: Config{Driver: "file"}, wantErr: true},
		"sqlite no path": {cfg: Config{Driver: "sqlite"}, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			st, err := Open(tc.cfg, logxNop)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.nilOK && st != nil {
				t.Fatalf("store = %T, want nil", st)
			}
		})
	}
}

func TestRecorderPersistsOutcomes(t *testing.T) {
	t.Parallel()
	st, _ := openTest(t, "sqlite", 0)
	bus := eventbus.New()
	rec := NewRecorder(st, bus, 16, logxNop)

	deadlineAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.Event{Type: deadline.TopicScheduled, Data: deadline.Event{Key: "ignored"}})
	bus.Publish(eventbus.Event{Type: deadline.TopicFailed, Data: deadline.Event{
		Scheduler: "s", Key: "a", Deadline: deadlineAt, Started: deadlineAt, Attempt: 1, Outcome: deadline.OutcomeRetry,
	}})
	bus.Publish(eventbus.Event{Type: deadline.TopicFired, Data: deadline.Event{
		Scheduler: "s", Key: "a", Deadline: deadlineAt, Started: deadlineAt.Add(time.Second),
		Lateness: time.Second, Duration: 250 * time.Millisecond, Attempt: 2, Outcome: deadline.OutcomeDone,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Run drains the buffered events and returns.
	if err := rec.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := st.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %+v", got)
	}
	if got[0].Outcome != "retry" || got[1].Outcome != "done" || got[1].Attempt != 2 || got[1].LatenessMS != 1000 || got[1].TookMS != 250 {
		t.Fatalf("records = %+v", got)
	}
}
