package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot fields can be
// applied to a running app; everything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LLMChanged           bool // enabled, prompt, timeout, max_tokens or warmup
	FormatChanged        bool
	HistoryLimitChanged  bool
	OutputChanged        bool
	NotificationsChanged bool

	// RestartRequired names the changed sections that only take effect
	// after a restart, in a stable order.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LLMChanged && !d.FormatChanged &&
		!d.HistoryLimitChanged && !d.OutputChanged && !d.NotificationsChanged &&
		len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.LLMChanged = old.LLM != new.LLM
	d.FormatChanged = !slices.Equal(old.Format.Rules, new.Format.Rules)
	d.HistoryLimitChanged = old.History.Limit != new.History.Limit
	d.OutputChanged = old.Output != new.Output
	d.NotificationsChanged = old.Notifications != new.Notifications

	cold := map[string]bool{
		"server.listen_addr": old.Server.ListenAddr != new.Server.ListenAddr,
		"server.api_enabled": old.Server.APIEnabled != new.Server.APIEnabled,
		"audio":              old.Audio != new.Audio,
		"providers":          !reflect.DeepEqual(old.Providers, new.Providers),
		"dictionary":         !reflect.DeepEqual(old.Dictionary, new.Dictionary),
		"history.backend":    old.History.Backend != new.History.Backend || old.History.DSN != new.History.DSN,
		"archive":            old.Archive != new.Archive,
		"telemetry":          old.Telemetry != new.Telemetry,
	}
	for _, k := range slices.Sorted(maps.Keys(cold)) {
		if cold[k] {
			d.RestartRequired = append(d.RestartRequired, k)
		}
	}
	return d
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
