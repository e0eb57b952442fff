package initializer

import (
	"io"
	"log/slog"
	"os"

	"github.com/amirasaad/coopcredit/pkg/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

var (
	infoColor  = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	warnColor  = lipgloss.AdaptiveColor{Light: "#EE6FF8", Dark: "#EE6FF8"}
	errorColor = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF6B6B"}
	debugColor = lipgloss.AdaptiveColor{Light: "#7E57C2", Dark: "#7E57C2"}
)

// levelBadges are the level markers shown by the text formatter.
var levelBadges = map[log.Level]struct {
	badge string
	color lipgloss.AdaptiveColor
}{
	log.ErrorLevel: {"❌", errorColor},
	log.WarnLevel:  {"⚠️", warnColor},
	log.InfoLevel:  {"ℹ️", infoColor},
	log.DebugLevel: {"🐛", debugColor},
}

// keyColors highlights the attributes operators search for most.
var keyColors = map[string]lipgloss.AdaptiveColor{
	"error":          errorColor,
	"kind":           warnColor,
	"member_id":      infoColor,
	"request_id":     infoColor,
	"params_version": debugColor,
	"job":            debugColor,
	"prefix":         debugColor,
	"caller":         debugColor,
	"time":           debugColor,
}

func setupLogger(cfg *config.Log) *slog.Logger {
	logger := newLogger(os.Stdout, cfg)
	slog.SetDefault(logger)
	return logger
}

// newLogger builds the process logger on w.
func newLogger(w io.Writer, cfg *config.Log) *slog.Logger {
	if cfg == nil {
		cfg = &config.Log{Format: "text", TimeFormat: "2006-01-02 15:04:05"}
	}

	styles := log.DefaultStyles()
	for level, b := range levelBadges {
		styles.Levels[level] = lipgloss.NewStyle().
			SetString(b.badge).
			Bold(true).
			Padding(0, 1).
			Foreground(b.color)
	}
	for key, color := range keyColors {
		styles.Keys[key] = lipgloss.NewStyle().Foreground(color)
		styles.Values[key] = lipgloss.NewStyle().Bold(true)
	}

	formatter := log.TextFormatter
	if cfg.Format == "json" {
		formatter = log.JSONFormatter
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Level:           log.Level(cfg.Level),
		Prefix:          cfg.Prefix,
		Formatter:       formatter,
	})
	logger.SetStyles(styles)

	return slog.New(logger)
}
