package model

import (
	"slices"
	"time"

	"github.com/rotisserie/eris"
)

// AutomationMode controls whether the automation loop drives the dispatcher.
type AutomationMode string

const (
	AutomationOff       AutomationMode = "off"
	AutomationManual    AutomationMode = "manual"
	AutomationAutomatic AutomationMode = "automatic"
)

// EmailTriggerMode controls whether a finished draft chains into a send.
type EmailTriggerMode string

const (
	EmailTriggerAutomatic EmailTriggerMode = "automatic"
	EmailTriggerManual    EmailTriggerMode = "manual"
)

// MinSearchIntervalSeconds is the lower bound of search_interval_seconds.
const MinSearchIntervalSeconds = 900

// Setting keys. Adding a key is a schema change.
const (
	SettingMasterSwitch          = "master_switch"
	SettingAutomationMode        = "automation_mode"
	SettingEmailTriggerMode      = "email_trigger_mode"
	SettingSearchIntervalSeconds = "search_interval_seconds"
	SettingSearchCategories      = "search_categories"
	SettingSearchLocations       = "search_locations"
	SettingRateLimitPerMinute    = "rate_limit_per_minute"
	SettingFollowupCooloffHours  = "followup_cooloff_hours"
	SettingMaxFollowups          = "max_followups"
)

// SettingKeys lists every recognized key.
var SettingKeys = []string{
	SettingMasterSwitch,
	SettingAutomationMode,
	SettingEmailTriggerMode,
	SettingSearchIntervalSeconds,
	SettingSearchCategories,
	SettingSearchLocations,
	SettingRateLimitPerMinute,
	SettingFollowupCooloffHours,
	SettingMaxFollowups,
}

// Settings is the process-wide settings document.
type Settings struct {
	MasterSwitch          bool             `json:"master_switch"`
	AutomationMode        AutomationMode   `json:"automation_mode"`
	EmailTriggerMode      EmailTriggerMode `json:"email_trigger_mode"`
	SearchIntervalSeconds int              `json:"search_interval_seconds"`
	SearchCategories      []string         `json:"search_categories"`
	SearchLocations       []string         `json:"search_locations"`
	RateLimitPerMinute    map[string]int   `json:"rate_limit_per_minute"`
	FollowupCooloffHours  int              `json:"followup_cooloff_hours"`
	MaxFollowups          int              `json:"max_followups"`
}

// DefaultSettings returns the document used before an operator saves one.
func DefaultSettings() Settings {
	return Settings{
		MasterSwitch:          false,
		AutomationMode:        AutomationOff,
		EmailTriggerMode:      EmailTriggerManual,
		SearchIntervalSeconds: 3600,
		SearchCategories:      []string{},
		SearchLocations:       []string{},
		RateLimitPerMinute:    map[string]int{},
		FollowupCooloffHours:  72,
		MaxFollowups:          3,
	}
}

// Validate checks every key against its declared domain.
func (s Settings) Validate() error {
	if !slices.Contains([]AutomationMode{AutomationOff, AutomationManual, AutomationAutomatic}, s.AutomationMode) {
		return eris.Errorf("settings: automation_mode %q is not one of off, manual, automatic", s.AutomationMode)
	}
	if s.EmailTriggerMode != EmailTriggerAutomatic && s.EmailTriggerMode != EmailTriggerManual {
		return eris.Errorf("settings: email_trigger_mode %q is not one of automatic, manual", s.EmailTriggerMode)
	}
	if s.SearchIntervalSeconds < MinSearchIntervalSeconds {
		return eris.Errorf("settings: search_interval_seconds must be >= %d, got %d", MinSearchIntervalSeconds, s.SearchIntervalSeconds)
	}
	for provider, rpm := range s.RateLimitPerMinute {
		if rpm <= 0 {
			return eris.Errorf("settings: rate_limit_per_minute[%s] must be positive", provider)
		}
	}
	if s.FollowupCooloffHours < 1 {
		return eris.New("settings: followup_cooloff_hours must be positive")
	}
	if s.MaxFollowups < 0 {
		return eris.New("settings: max_followups must not be negative")
	}
	return nil
}

// GateParams derives the follow-up gate inputs from the settings.
func (s Settings) GateParams(now time.Time) GateParams {
	return GateParams{
		Now:          now,
		Cooloff:      time.Duration(s.FollowupCooloffHours) * time.Hour,
		MaxFollowups: s.MaxFollowups,
	}
}
