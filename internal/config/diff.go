package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pacebot/pkg/logx"
)

// SummarizeChange lists the changed top-level sections and log fields
// describing them. Secrets (token, dsn, password) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		fields  []logx.Field
	)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.CommandRate != newCfg.Telegram.CommandRate ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if lanes := changedLanes(oldCfg.Lanes, newCfg.Lanes); len(lanes) > 0 {
		changed = append(changed, "lanes")
		fields = append(fields, logx.Any("lanes.changed", lanes))
	}

	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		fields = append(fields, logx.String("report.schedule", newCfg.Report.Schedule))
	}
	return changed, fields
}

func changedLanes(a, b map[string]LaneConfig) []string {
	var out []string
	for name, l := range b {
		if old, ok := a[name]; !ok || !reflect.DeepEqual(old, l) {
			out = append(out, name)
		}
	}
	for name := range a {
		if _, ok := b[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
