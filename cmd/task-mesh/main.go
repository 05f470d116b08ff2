package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyang/task-mesh/internal/config"
	"github.com/alanyang/task-mesh/internal/wire"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var cfgFile string

// flagPaths maps a command's flags onto config paths; set flags win over
// the file and environment.
var flagPaths = map[*cobra.Command]map[string]string{}

func bindFlag(cmd *cobra.Command, flag, path string) {
	if flagPaths[cmd] == nil {
		flagPaths[cmd] = make(map[string]string)
	}
	flagPaths[cmd][flag] = path
}

// loadConfig reads the config and installs the process logger.
func loadConfig(cmd *cobra.Command) (*config.Config, io.Closer, error) {
	l := config.NewLoader().WithFile(cfgFile)
	for flag, path := range flagPaths[cmd] {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			l.WithOverride(path, f.Value.String())
		}
	}
	cfg, err := l.Load()
	if err != nil {
		return nil, nil, err
	}

	logger, closer, err := wire.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, closer, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "task-mesh",
		Short:         "Distributed task dispatch: one master, many controllers",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newMasterCmd(), newControllerCmd(), newSubmitCmd(), newStatusCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "task-mesh:", err)
		os.Exit(1)
	}
}
