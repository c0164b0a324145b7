package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	airportcore "github.com/pppwaw/white-label-airport-core"
	"github.com/pppwaw/white-label-airport-core/core"
	"github.com/pppwaw/white-label-airport-core/internal/appconfig"
	"pkt.systems/pslog"
)

func loadConfig(flags *rootFlags) (appconfig.Config, error) {
	cfg, err := appconfig.Load(flags.configPath)
	if err != nil {
		return appconfig.Config{}, err
	}
	if strings.TrimSpace(flags.addr) != "" {
		cfg.Core.Addr = strings.TrimSpace(flags.addr)
	}
	return cfg, nil
}

func newClient(ctx context.Context, cfg appconfig.Config, opts ...airportcore.Option) (*airportcore.Client, error) {
	return airportcore.New(ctx, airportcore.Config{
		Core:      cfg.ClientConfig(),
		Reconnect: cfg.ReconnectPolicy(),
	}, append([]airportcore.Option{airportcore.WithLogger(pslog.Ctx(ctx))}, opts...)...)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// readDocument reads a file, or stdin when path is "-".
func readDocument(cmd *cobra.Command, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func stopClient(client *airportcore.Client, log pslog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Stop(ctx); err != nil {
		log.Warn("client stop failed", "err", err)
	}
}

func printOutcome(w io.Writer, out core.Outcome, state string) error {
	if out.Succeeded() {
		_, err := fmt.Fprintf(w, "%s ok (state: %s)\n", out.Pipeline, state)
		return err
	}
	return out.Err
}
