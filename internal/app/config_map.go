package app

import (
	"strings"
	"time"

	"deadlined/internal/config"
	"deadlined/internal/deadline"
	"deadlined/internal/entries"
	"deadlined/internal/eventbus"
	"deadlined/internal/observability/debugsrv"
	"deadlined/internal/storage"
	logx "deadlined/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapHistoryConfig reports enabled=false when history is omitted or "none".
func mapHistoryConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.History == nil {
		return storage.Config{}, false, nil
	}
	hc := cfg.History
	driver := strings.ToLower(strings.TrimSpace(hc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("history.busy_timeout", hc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(hc.Path),
		BusyTimeout: busy,
		Keep:        hc.Keep,
	}, true, nil
}

func mapDebugConfig(cfg *config.Config) debugsrv.Config {
	if cfg == nil || cfg.Debug == nil {
		return debugsrv.Config{}
	}
	d := cfg.Debug
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  60 * time.Second, // covers /debug/pprof/profile
		IdleTimeout:   60 * time.Second,
	}
}

func schedulerOptions(s config.SchedulerSettings, log logx.Logger, bus eventbus.Bus) []deadline.Option {
	return []deadline.Option{
		deadline.WithName("timers"),
		deadline.WithLogger(log),
		deadline.WithBus(bus),
		deadline.WithRetryBackoff(s.RetryBase, s.RetryMaxDelay),
		deadline.WithRetryJitter(s.RetryJitter),
		deadline.WithMaxSleep(s.MaxSleep),
		deadline.WithHistorySize(s.HistorySize),
	}
}

func newEntryStore(kind string) entries.Store[string, time.Time] {
	if kind == config.StoreInsertion {
		return entries.NewInsertionOrdered[string, time.Time]()
	}
	return entries.NewDeadlines[string]()
}
