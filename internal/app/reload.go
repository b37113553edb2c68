package app

import (
	"log/slog"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/transcript/format"
)

// ApplyConfig installs the hot-reloadable parts of next. It is the
// callback for [config.Watcher]. The capture path is never touched; a
// running recording keeps the settings it started with.
func (a *App) ApplyConfig(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if d.Empty() {
		return
	}

	if d.FormatChanged {
		f, err := format.New(next.Format.Rules)
		if err != nil {
			// Validate already ran in the loader; keep the old rules if not.
			slog.Error("config reload: formatting rules rejected, keeping previous", "err", err)
			next.Format = prev.Format
		} else {
			a.orch.SetFormatter(f)
		}
	}

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Slog())
	}
	if d.LLMChanged {
		a.applyRefiner(next)
	}
	if d.HistoryLimitChanged {
		a.orch.SetHistoryLimit(next.History.Limit)
	}
	if d.OutputChanged {
		a.clipboard.SetEnabled(next.Output.CopyToClipboard)
	}
	if d.NotificationsChanged {
		a.desktop.SetEnabled(next.Notifications.Desktop)
		a.desktop.SetSound(next.Notifications.Sound)
	}

	a.cfg.Store(next)

	slog.Info("config reload applied",
		"log_level", d.LogLevelChanged,
		"llm", d.LLMChanged,
		"format", d.FormatChanged,
		"history_limit", d.HistoryLimitChanged,
		"output", d.OutputChanged,
		"notifications", d.NotificationsChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: some changes take effect after a restart", "sections", d.RestartRequired)
	}
}
