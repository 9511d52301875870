// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package main

import (
	"encoding/json"
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// sodScanConfig holds configuration for the sod-scan command.
type sodScanConfig struct {
	tenantID   string
	jsonOutput bool
}

// newSoDScanCmd creates the sod-scan subcommand.
func newSoDScanCmd() *cobra.Command {
	cfg := &sodScanConfig{}

	cmd := &cobra.Command{
		Use:   "sod-scan",
		Short: "Scan a tenant for segregation-of-duties violations",
		Long: `Scan every active principal in a tenant against the tenant's
active SoD rules and report each violating (principal, rule) pair.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSoDScan(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.tenantID, "tenant", "", "tenant identifier")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output the report as JSON")
	_ = cmd.MarkFlagRequired("tenant") //nolint:errcheck // flag exists

	return cmd
}

func runSoDScan(cmd *cobra.Command, cfg *sodScanConfig) error {
	appCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, appCfg)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := rt.validator.DetectViolations(ctx, cfg.tenantID)
	if err != nil {
		return err
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return oops.Wrapf(err, "marshaling report")
		}
		cmd.Println(string(data))
	} else {
		for _, v := range report.Violations {
			cmd.Printf("%s  principal=%s rule=%q enforcement=%s\n",
				v.ID, v.PrincipalID, v.Rule.Name, v.Rule.Enforcement)
		}
		for _, f := range report.Failures {
			cmd.Printf("scan failed for principal %s: %v\n", f.PrincipalID, f.Err)
		}
		cmd.Printf("%d violation(s), %d principal(s) failed\n",
			len(report.Violations), len(report.Failures))
	}

	if len(report.Violations) > 0 {
		return fmt.Errorf("found %d sod violation(s)", len(report.Violations))
	}
	return nil
}
