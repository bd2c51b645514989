package main

import (
	"context"
	"fmt"
	"os/user"
	"strings"
	"text/tabwriter"

	"github.com/775kkk/logic-signal-protector-sub000/internal/catalog"
	"github.com/775kkk/logic-signal-protector-sub000/internal/store"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newSwitchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch",
		Short: "Manage command feature switches",
		Long:  "Feature switches enable or disable toggleable commands at runtime without a restart.",
	}

	cmd.AddCommand(newSwitchListCmd())
	cmd.AddCommand(newSwitchSetCmd())
	return cmd
}

func newSwitchListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List toggleable commands and their switch state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwitchList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to lsp config file")
	return cmd
}

func runSwitchList(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	ss, err := openSwitchStore(gormDB)
	if err != nil {
		return err
	}
	rows, err := ss.ListSwitches(context.Background())
	if err != nil {
		return err
	}
	persisted := make(map[string]catalog.Switch, len(rows))
	for _, r := range rows {
		persisted[r.CommandCode] = r
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tCOMMAND\tENABLED\tUPDATED BY\tUPDATED\tNOTE")
	for _, d := range toggleable() {
		sw, ok := persisted[d.Code]
		if !ok {
			fmt.Fprintf(w, "%s\t/%s\t%s\t-\t-\t-\n", d.Code, d.Keyword, "yes (default)")
			continue
		}
		fmt.Fprintf(w, "%s\t/%s\t%s\t%s\t%s\t%s\n",
			d.Code, d.Keyword, yesNo(sw.Enabled), dash(sw.UpdatedBy),
			sw.UpdatedAt.Format("2006-01-02 15:04"), dash(sw.Note))
	}
	w.Flush()
	return nil
}

func newSwitchSetCmd() *cobra.Command {
	var (
		configPath string
		note       string
		by         string
	)

	cmd := &cobra.Command{
		Use:   "set <code> <on|off>",
		Short: "Enable or disable a toggleable command",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwitchSet(cmd, configPath, args[0], args[1], note, by)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to lsp config file")
	cmd.Flags().StringVar(&note, "note", "", "reason recorded with the switch")
	cmd.Flags().StringVar(&by, "by", "", "operator recorded with the switch (defaults to the OS user)")
	return cmd
}

func runSwitchSet(cmd *cobra.Command, configPath, code, state, note, by string) error {
	code = strings.ToUpper(code)
	if !isToggleable(code) {
		return fmt.Errorf("switch: %s is not a toggleable command", code)
	}
	var enabled bool
	switch strings.ToLower(state) {
	case "on", "enable", "enabled":
		enabled = true
	case "off", "disable", "disabled":
	default:
		return fmt.Errorf("switch: state must be on or off, got %q", state)
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	ss, err := openSwitchStore(gormDB)
	if err != nil {
		return err
	}
	if by == "" {
		by = "cli"
		if u, err := user.Current(); err == nil && u.Username != "" {
			by = "cli:" + u.Username
		}
	}
	if err := ss.SetSwitch(context.Background(), code, enabled, by, note); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", code, map[bool]string{true: "enabled", false: "disabled"}[enabled])
	return nil
}

// openSwitchStore migrates the schema and returns a switch store.
func openSwitchStore(gormDB *gorm.DB) (*store.SwitchStore, error) {
	if err := store.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return store.NewSwitchStore(gormDB)
}

// toggleable returns the catalog commands subject to feature switches.
func toggleable() []catalog.Definition {
	var out []catalog.Definition
	for _, d := range catalog.Default().All() {
		if d.Toggleable {
			out = append(out, d)
		}
	}
	return out
}

func isToggleable(code string) bool {
	for _, d := range toggleable() {
		if d.Code == code {
			return true
		}
	}
	return false
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
