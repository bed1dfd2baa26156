package app

import (
	"context"
	"strings"
	"time"

	"deadlined/internal/config"
	"deadlined/internal/storage"
	logx "deadlined/pkg/logx"
)

// TimerPlan is one configured timer with its first deadline.
type TimerPlan struct {
	Key  string
	Spec string
	Next time.Time // zero when the timer would never fire
}

// Check validates the config file and reports when each timer would first
// fire if the daemon started at now.
func Check(cfgPath string, now time.Time) ([]TimerPlan, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	settings, err := cfg.Scheduler.Resolve()
	if err != nil {
		return nil, err
	}
	plans := make([]TimerPlan, 0, len(cfg.Timers))
	for _, t := range cfg.Timers {
		spec, err := t.Spec(now, settings.Location)
		if err != nil {
			return nil, err
		}
		p := TimerPlan{Key: strings.TrimSpace(t.Key), Spec: spec.String()}
		if next, ok := spec.Next(now); ok {
			p.Next = next
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// History reads the newest limit run records from the configured history
// store without starting the daemon.
func History(ctx context.Context, cfgPath string, limit int) ([]storage.RunRecord, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	hc, enabled, err := mapHistoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, storage.ErrDisabled
	}
	st, err := storage.Open(hc, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.RecentRuns(ctx, limit)
}
