package config

import (
	"reflect"
	"sort"
	"strings"

	logx "deadlined/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections and structured
// attrs for logging the change.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.store", newCfg.Scheduler.Store),
			logx.String("scheduler.retry_base", newCfg.Scheduler.RetryBase),
			logx.String("scheduler.max_sleep", newCfg.Scheduler.MaxSleep),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}

	// Nil means disabled.
	var oldH, newH HistoryConfig
	if oldCfg.History != nil {
		oldH = *oldCfg.History
	}
	if newCfg.History != nil {
		newH = *newCfg.History
	}
	if oldH != newH {
		changed = append(changed, "history")
		attrs = append(attrs,
			logx.String("history.driver", strings.TrimSpace(newH.Driver)),
			logx.Bool("history.path_set", strings.TrimSpace(newH.Path) != ""),
		)
	}

	var oldD, newD DebugConfig
	if oldCfg.Debug != nil {
		oldD = *oldCfg.Debug
	}
	if newCfg.Debug != nil {
		newD = *newCfg.Debug
	}
	if oldD != newD {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newD.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newD.Addr)),
			logx.Bool("debug.pprof", newD.Pprof),
		)
	}

	upsert, removed := DiffTimers(oldCfg.Timers, newCfg.Timers)
	if len(upsert) > 0 || len(removed) > 0 {
		changed = append(changed, "timers")
		attrs = append(attrs,
			logx.Int("timers.upserted", len(upsert)),
			logx.Int("timers.removed", len(removed)),
			logx.Int("timers.total", len(newCfg.Timers)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// DiffTimers returns the timers in newT that are new or differ from oldT
// (in newT order), and the keys present only in oldT (sorted).
func DiffTimers(oldT, newT []TimerConfig) (upsert []TimerConfig, removed []string) {
	prev := make(map[string]TimerConfig, len(oldT))
	for _, t := range oldT {
		prev[strings.TrimSpace(t.Key)] = t
	}
	next := make(map[string]struct{}, len(newT))
	for _, t := range newT {
		key := strings.TrimSpace(t.Key)
		next[key] = struct{}{}
		if o, ok := prev[key]; !ok || !sameTimer(o, t) {
			upsert = append(upsert, t)
		}
	}
	for key := range prev {
		if _, ok := next[key]; !ok {
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	return upsert, removed
}

func sameTimer(a, b TimerConfig) bool {
	return strings.TrimSpace(a.At) == strings.TrimSpace(b.At) &&
		strings.TrimSpace(a.After) == strings.TrimSpace(b.After) &&
		strings.TrimSpace(a.Schedule) == strings.TrimSpace(b.Schedule)
}
