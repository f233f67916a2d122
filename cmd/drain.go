package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type drainResult struct {
	Success bool `json:"success"`
	Drained int  `json:"drained"`
}

func newDrainCommand() *cobra.Command {
	var controlAddr string
	var timeoutSeconds float64

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "trigger a graceful connection drain against a running proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("http://%s/v1/drain?timeout_seconds=%g", controlAddr, timeoutSeconds)

			client := &http.Client{Timeout: time.Duration(timeoutSeconds+5) * time.Second}
			resp, err := client.Post(url, "application/json", nil)
			if err != nil {
				return fmt.Errorf("drain: %w", err)
			}
			defer resp.Body.Close()

			var result drainResult
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				return fmt.Errorf("drain: decode response: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "drained=%d success=%v\n", result.Drained, result.Success)
			if !result.Success {
				return fmt.Errorf("drain: did not complete within %gs", timeoutSeconds)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&controlAddr, "control-addr", "127.0.0.1:50051", "control-plane HTTP bind address")
	cmd.Flags().Float64Var(&timeoutSeconds, "timeout-seconds", 30, "maximum time to wait for drain to complete")
	return cmd
}
