package main

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the pipeline settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the settings document",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		doc, err := st.LoadSettings(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), doc)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Change settings keys",
	Long: "Values are parsed as JSON when they parse, otherwise taken as strings, e.g.\n" +
		"  settings set master_switch=true automation_mode=automatic\n" +
		"  settings set 'search_categories=[\"Art Gallery\"]' 'rate_limit_per_minute={\"hunter\":20}'",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.ModeMigrate); err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		svc := settings.New(st, 0)
		doc, err := svc.Get(cmd.Context())
		if err != nil {
			return err
		}
		updated, err := applySettings(doc, args)
		if err != nil {
			return err
		}
		if err := svc.Save(cmd.Context(), updated); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), updated)
	},
}

// applySettings sets each key=value pair on doc.
func applySettings(doc model.Settings, pairs []string) (model.Settings, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return doc, eris.Wrap(err, "settings: encode")
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return doc, eris.Wrap(err, "settings: decode")
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return doc, eris.Errorf("settings: %q is not key=value", pair)
		}
		if !slices.Contains(model.SettingKeys, key) {
			return doc, eris.Errorf("settings: unknown key %q", key)
		}
		if json.Valid([]byte(value)) {
			fields[key] = json.RawMessage(value)
		} else {
			quoted, _ := json.Marshal(value)
			fields[key] = quoted
		}
	}
	raw, err = json.Marshal(fields)
	if err != nil {
		return doc, eris.Wrap(err, "settings: encode")
	}
	var out model.Settings
	if err := json.Unmarshal(raw, &out); err != nil {
		return doc, eris.Wrap(err, "settings: value has the wrong type")
	}
	return out, nil
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
