package orchestrator

import (
	"time"

	"github.com/choraleia/helpdesk/pkg/config"
)

// Config holds the tunables of one engine.
type Config struct {
	LockWindow          time.Duration
	MatchFloor          float64
	SwitchThreshold     float64
	DocumentRelevance   float64
	SupportingRelevance float64
	DocumentTopK        int
	HistoryMessages     int
	InactivityThreshold time.Duration
	ToolTimeout         time.Duration
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		LockWindow:          config.DefaultLockWindow,
		MatchFloor:          config.DefaultMatchFloor,
		SwitchThreshold:     config.DefaultSwitchThreshold,
		DocumentRelevance:   config.DefaultDocumentRelevance,
		SupportingRelevance: config.DefaultSupportingRelevance,
		DocumentTopK:        config.DefaultDocumentTopK,
		HistoryMessages:     config.DefaultHistoryMessages,
		InactivityThreshold: config.DefaultInactivityThreshold,
		ToolTimeout:         config.DefaultToolTimeout,
	}
}

// ConfigFrom builds an engine config from the application config.
func ConfigFrom(app *config.AppConfig) Config {
	cfg := DefaultConfig()
	if app == nil {
		return cfg
	}
	o := app.Orchestration
	if o.LockWindow > 0 {
		cfg.LockWindow = o.LockWindow
	}
	if o.MatchFloor > 0 {
		cfg.MatchFloor = o.MatchFloor
	}
	if o.SwitchThreshold > 0 {
		cfg.SwitchThreshold = o.SwitchThreshold
	}
	if o.DocumentRelevance > 0 {
		cfg.DocumentRelevance = o.DocumentRelevance
	}
	if o.SupportingRelevance > 0 {
		cfg.SupportingRelevance = o.SupportingRelevance
	}
	if o.DocumentTopK > 0 {
		cfg.DocumentTopK = o.DocumentTopK
	}
	if o.HistoryMessages > 0 {
		cfg.HistoryMessages = o.HistoryMessages
	}
	if app.Inactivity.Threshold > 0 {
		cfg.InactivityThreshold = app.Inactivity.Threshold
	}
	if app.Tools.Timeout > 0 {
		cfg.ToolTimeout = app.Tools.Timeout
	}
	return cfg
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LockWindow <= 0 {
		c.LockWindow = d.LockWindow
	}
	if c.MatchFloor <= 0 {
		c.MatchFloor = d.MatchFloor
	}
	if c.SwitchThreshold <= 0 {
		c.SwitchThreshold = d.SwitchThreshold
	}
	if c.DocumentRelevance <= 0 {
		c.DocumentRelevance = d.DocumentRelevance
	}
	if c.SupportingRelevance <= 0 {
		c.SupportingRelevance = d.SupportingRelevance
	}
	if c.DocumentTopK <= 0 {
		c.DocumentTopK = d.DocumentTopK
	}
	if c.HistoryMessages <= 0 {
		c.HistoryMessages = d.HistoryMessages
	}
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = d.InactivityThreshold
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = d.ToolTimeout
	}
	return c
}
