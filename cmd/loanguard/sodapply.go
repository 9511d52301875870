// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/loanguard/loanguard/internal/authz/sod"
)

// newSoDApplyCmd creates the sod-apply subcommand.
func newSoDApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sod-apply <file>",
		Short: "Load segregation-of-duties rules from a YAML file",
		Long: `Validate a SoD rule file against its JSON schema and upsert the
rules into the store, matching existing rules by name within the tenant.`,
		Args: cobra.ExactArgs(1),
		RunE: runSoDApply,
	}
}

func runSoDApply(cmd *cobra.Command, args []string) error {
	appCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return oops.Code("SOD_FILE_INVALID").With("path", args[0]).Wrap(err)
	}

	file, err := sod.ParseRuleFile(data)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, appCfg)
	if err != nil {
		return err
	}
	defer rt.close()

	created, err := sod.Apply(ctx, rt.store, file)
	if err != nil {
		return err
	}

	cmd.Printf("Applied %d rule(s) for tenant %s (%d created)\n",
		len(file.Rules), file.TenantID, created)
	return nil
}
