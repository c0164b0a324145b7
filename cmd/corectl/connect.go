package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pppwaw/white-label-airport-core/core"
	"pkt.systems/pslog"
)

func newConnectCmd(flags *rootFlags) *cobra.Command {
	var settingsFile string
	var settingsJSON string
	var configFile string
	var debug bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "connect [config-file]",
		Short: "Apply settings, parse a configuration and start the core",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				configFile = args[0]
			}
			if configFile == "" {
				configFile = cfg.Connect.ConfigFile
			}
			if configFile == "" {
				return fmt.Errorf("a configuration file is required (argument, --config-file or connect.config_file)")
			}
			if settingsJSON == "" {
				if settingsFile == "" {
					settingsFile = cfg.Connect.SettingsFile
				}
				if settingsJSON, err = readDocument(cmd, settingsFile); err != nil {
					return err
				}
			}
			content, err := readDocument(cmd, configFile)
			if err != nil {
				return err
			}

			client, err := newClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer stopClient(client, logger)

			runCtx, cancel := withTimeout(ctx, timeout)
			defer cancel()
			out := client.Connect(runCtx, core.ConnectRequest{
				SettingsJSON:  strings.TrimSpace(settingsJSON),
				ConfigContent: content,
				Debug:         debug,
			})
			if res, ok := core.ResultOf[core.SettingsResult](out.Results, core.StepChangeSettings); ok && !res.Applied {
				logger.Warn("settings not applied", "err", res.Err)
			}
			return printOutcome(cmd.OutOrStdout(), out, client.State().Label())
		},
	}
	cmd.Flags().StringVar(&settingsFile, "settings-file", "", "settings JSON file applied before parsing (- for stdin)")
	cmd.Flags().StringVar(&settingsJSON, "settings", "", "settings JSON applied before parsing")
	cmd.Flags().StringVar(&configFile, "config-file", "", "proxy configuration file (- for stdin)")
	cmd.Flags().BoolVar(&debug, "debug", false, "ask the core for a debug parse")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout for the connect sequence")
	return cmd
}

func newDisconnectCmd(flags *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Stop the core",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			client, err := newClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer stopClient(client, pslog.Ctx(ctx))

			runCtx, cancel := withTimeout(ctx, timeout)
			defer cancel()
			out := client.Disconnect(runCtx)
			return printOutcome(cmd.OutOrStdout(), out, client.State().Label())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout for the stop call")
	return cmd
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the state the core reports on its push stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			client, err := newClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer stopClient(client, pslog.Ctx(ctx))

			runCtx, cancel := withTimeout(ctx, timeout)
			defer cancel()
			stream, err := client.WatchState(runCtx)
			if err != nil {
				return err
			}
			defer stream.Close()
			info, err := stream.Next(runCtx)
			if err != nil {
				return fmt.Errorf("read state: %w", err)
			}
			if !info.State.Valid() {
				return fmt.Errorf("core reported unknown state %s", info.State)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", info.State.Label(), info.State)
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for a state report")
	return cmd
}

func newInfoCmd(flags *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print the core settings and capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			client, err := newClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer stopClient(client, pslog.Ctx(ctx))

			runCtx, cancel := withTimeout(ctx, timeout)
			defer cancel()
			defaults := client.Hydrate(runCtx)
			w := cmd.OutOrStdout()
			if defaults.SettingsErr != nil {
				fmt.Fprintf(w, "settings: unavailable (%v)\n", defaults.SettingsErr)
			} else {
				fmt.Fprintf(w, "settings: %s\n", defaults.Settings.SettingsJSON)
			}
			if defaults.CapabilitiesErr != nil {
				fmt.Fprintf(w, "capabilities: unavailable (%v)\n", defaults.CapabilitiesErr)
			} else {
				caps := defaults.Capabilities
				fmt.Fprintf(w, "TLS Fragmentation: %s\n", supported(caps.SupportsTLSFragment))
				fmt.Fprintf(w, "QUIC: %s\n", supported(caps.SupportsQUIC))
				fmt.Fprintf(w, "ECH: %s\n", supported(caps.SupportsECH))
				version := caps.SchemaVersion
				if version == "" {
					version = "unknown"
				}
				fmt.Fprintf(w, "Schema Version: %s\n", version)
			}
			if defaults.SettingsErr != nil && defaults.CapabilitiesErr != nil {
				return defaults.SettingsErr
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout for both fetches")
	return cmd
}

func supported(ok bool) string {
	if ok {
		return "supported"
	}
	return "not available"
}
