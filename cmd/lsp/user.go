package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/775kkk/logic-signal-protector-sub000/internal/identity"
	"github.com/775kkk/logic-signal-protector-sub000/internal/store"
	"github.com/spf13/cobra"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local identity roles and permission overrides",
		Long:  "Administers users of the local identity store. Has no effect when identity.mode is remote.",
	}

	cmd.AddCommand(newUserGrantCmd())
	cmd.AddCommand(newUserOverrideCmd())
	return cmd
}

func newUserGrantCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "grant <login> <role>",
		Short: "Grant a role to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserGrant(cmd, configPath, args[0], strings.ToUpper(args[1]))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to lsp config file")
	return cmd
}

func runUserGrant(cmd *cobra.Command, configPath, login, role string) error {
	local, closeFn, err := openLocalIdentity(configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := local.Grant(context.Background(), login, role); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Granted %s to %s\n", role, login)
	return nil
}

func newUserOverrideCmd() *cobra.Command {
	var (
		configPath string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "override <login> <perm> <allow|deny>",
		Short: "Set a per-user permission override",
		Long:  "Records an ALLOW or DENY override for one permission. DENY wins over any role grant.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserOverride(cmd, configPath, args[0], strings.ToUpper(args[1]), args[2], reason)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to lsp config file")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the override")
	return cmd
}

func runUserOverride(cmd *cobra.Command, configPath, login, perm, effect, reason string) error {
	local, closeFn, err := openLocalIdentity(configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := local.SetOverride(context.Background(), login, perm, effect, reason); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s for %s\n", strings.ToUpper(effect), perm, login)
	return nil
}

// openLocalIdentity connects to the configured database and returns the
// local identity store. The schema and default roles are ensured first.
func openLocalIdentity(configPath string) (*identity.Local, func(), error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { closeDB(gormDB) }

	if cfg.Identity.Mode == "remote" {
		closeFn()
		return nil, nil, fmt.Errorf("user: identity.mode is remote, manage users on the identity service")
	}
	if err := store.AutoMigrate(gormDB); err != nil {
		closeFn()
		return nil, nil, err
	}
	if err := store.SeedRoles(gormDB, store.DefaultRoles); err != nil {
		closeFn()
		return nil, nil, err
	}
	local, err := identity.NewLocal(identity.LocalOpts{DB: gormDB})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return local, closeFn, nil
}
