package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// settingFields maps each recognized key onto its field of s.
func settingFields(s *model.Settings) map[string]any {
	return map[string]any{
		model.SettingMasterSwitch:          &s.MasterSwitch,
		model.SettingAutomationMode:        &s.AutomationMode,
		model.SettingEmailTriggerMode:      &s.EmailTriggerMode,
		model.SettingSearchIntervalSeconds: &s.SearchIntervalSeconds,
		model.SettingSearchCategories:      &s.SearchCategories,
		model.SettingSearchLocations:       &s.SearchLocations,
		model.SettingRateLimitPerMinute:    &s.RateLimitPerMinute,
		model.SettingFollowupCooloffHours:  &s.FollowupCooloffHours,
		model.SettingMaxFollowups:          &s.MaxFollowups,
	}
}

func (c *core) LoadSettings(ctx context.Context) (model.Settings, error) {
	s := model.DefaultSettings()
	fields := settingFields(&s)

	rs, err := c.be.query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return s, c.wrap(err, "load settings")
	}
	defer rs.Close()
	for rs.Next() {
		var key, value string
		if err := rs.Scan(&key, &value); err != nil {
			return s, c.wrap(err, "scan setting")
		}
		dst, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(value), dst); err != nil {
			return s, eris.Wrapf(err, "store: decode setting %s", key)
		}
	}
	if err := rs.Err(); err != nil {
		return s, c.wrap(err, "load settings iterate")
	}
	return s, nil
}

func (c *core) SaveSettings(ctx context.Context, s model.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	return c.inTx(ctx, false, func(q querier) error {
		fields := settingFields(&s)
		for _, key := range model.SettingKeys {
			value, err := json.Marshal(fields[key])
			if err != nil {
				return eris.Wrapf(err, "store: encode setting %s", key)
			}
			_, err = q.exec(ctx, `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, string(value), now)
			if err != nil {
				return c.wrap(err, "save setting "+key)
			}
		}
		return nil
	})
}
