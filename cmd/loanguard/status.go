// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// ServiceStatus holds the probed state of a running loanguard process.
type ServiceStatus struct {
	Addr     string `json:"addr"`
	Liveness string `json:"liveness"`
	Ready    bool   `json:"ready"`
	Error    string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running loanguard process",
		Long:  `Probe the observability listener's health endpoints and report the result.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	appCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	status := probeService(appCfg.Observability.Addr)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
	} else {
		if status.Error != "" {
			cmd.Printf("loanguard (%s): not running (%s)\n", status.Addr, status.Error)
		} else {
			readiness := "not ready"
			if status.Ready {
				readiness = "ready"
			}
			cmd.Printf("loanguard (%s): %s, %s\n", status.Addr, status.Liveness, readiness)
		}
	}

	if status.Error != "" || !status.Ready {
		return fmt.Errorf("service not healthy")
	}
	return nil
}

// probeService queries the liveness and readiness endpoints.
func probeService(addr string) ServiceStatus {
	status := ServiceStatus{Addr: addr}
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get("http://" + addr + "/healthz/liveness")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort probe
	_ = resp.Body.Close()            //nolint:errcheck // best-effort probe
	status.Liveness = strings.TrimSpace(string(body))

	readyResp, err := client.Get("http://" + addr + "/healthz/readiness")
	if err != nil {
		status.Error = fmt.Sprintf("readiness probe failed: %v", err)
		return status
	}
	_ = readyResp.Body.Close() //nolint:errcheck // best-effort probe
	status.Ready = readyResp.StatusCode == http.StatusOK

	return status
}
