// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package main

import (
	"encoding/json"
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// checkConfig holds configuration for the check command.
type checkConfig struct {
	tenantID    string
	principalID string
	action      string
	contextJSON string
	jsonOutput  bool
}

// newCheckCmd creates the check subcommand.
func newCheckCmd() *cobra.Command {
	cfg := &checkConfig{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate an authorization decision",
		Long: `Evaluate whether a principal may perform a business action,
applying the permission check, effective business rules, and printing
the full decision with per-rule results.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.tenantID, "tenant", "", "tenant identifier")
	cmd.Flags().StringVar(&cfg.principalID, "principal", "", "principal identifier")
	cmd.Flags().StringVar(&cfg.action, "action", "", "business action (e.g. loan.approve)")
	cmd.Flags().StringVar(&cfg.contextJSON, "context", "{}", "request context as a JSON object")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output the decision as JSON")
	_ = cmd.MarkFlagRequired("tenant")    //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("principal") //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("action")    //nolint:errcheck // flag exists

	return cmd
}

func runCheck(cmd *cobra.Command, cfg *checkConfig) error {
	appCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var reqCtx map[string]any
	if err := json.Unmarshal([]byte(cfg.contextJSON), &reqCtx); err != nil {
		return oops.Code("CONTEXT_INVALID").Wrapf(err, "parsing --context")
	}

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, appCfg)
	if err != nil {
		return err
	}
	defer rt.close()

	decision := rt.engine.ValidateAction(ctx, cfg.tenantID, cfg.principalID, cfg.action, reqCtx)

	if cfg.jsonOutput {
		out := map[string]any{
			"allowed":             decision.IsAllowed(),
			"reason":              decision.Reason,
			"required_permission": decision.RequiredPermission,
			"rule_results":        decision.RuleResults,
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return oops.Wrapf(err, "marshaling decision")
		}
		cmd.Println(string(data))
		return nil
	}

	verdict := "DENIED"
	if decision.IsAllowed() {
		verdict = "ALLOWED"
	}
	cmd.Printf("%s: %s (%s)\n", cfg.action, verdict, decision.Reason)
	for _, r := range decision.RuleResults {
		cmd.Printf("  %-28s %-15s %s\n", r.RuleType, r.Outcome, r.Reason)
	}
	if !decision.IsAllowed() {
		return fmt.Errorf("action denied")
	}
	return nil
}
