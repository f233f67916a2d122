package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nivisproxy/l4proxy/internal/config"
	"github.com/nivisproxy/l4proxy/internal/logging"
	"github.com/nivisproxy/l4proxy/internal/supervisor"
)

func newServeCommand() *cobra.Command {
	var configPath string
	var controlAddr string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the data plane and control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			log, err := logging.New(debug)
			if err != nil {
				return fmt.Errorf("logging: %w", err)
			}
			defer log.Sync()

			sv := supervisor.New(log, controlAddr)
			return sv.Run(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config document")
	cmd.Flags().StringVar(&controlAddr, "control-addr", "127.0.0.1:50051", "control-plane HTTP bind address")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable development-mode logging")
	return cmd
}
