package main

import (
	"github.com/spf13/cobra"

	"github.com/pppwaw/white-label-airport-core/internal/coregrpc"
	"pkt.systems/pslog"
)

func newMockCoreCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-core",
		Short: "Serve an in-process mock of the core service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			serverCfg := cfg.ServerConfig()
			logger.Info("mock core config loaded", "addr", serverCfg.Addr, "quic", serverCfg.Capabilities.QUIC, "ech", serverCfg.Capabilities.ECH)
			server := coregrpc.NewServer(serverCfg, logger)
			return server.ListenAndServe(cmd.Context())
		},
	}
	return cmd
}
