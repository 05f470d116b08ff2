package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyang/task-mesh/internal/client"
	"github.com/alanyang/task-mesh/internal/service/generator"
)

func newSubmitCmd() *cobra.Command {
	var (
		server string
		file   string
		rate   float64
		burst  int
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit tasks from a JSON-lines file to a master",
		Long: `Submit reads one task per line:

  {"id":"t1","type":"echo","properties":{"msg":"hi"},"timeout":"30s"}

Blank lines and lines starting with # are skipped. Duplicate ids are
reported and skipped.`,
		Example: `  task-mesh submit -f tasks.jsonl
  cat tasks.jsonl | task-mesh submit --rate 50`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, closer, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				fh, err := os.Open(file)
				if err != nil {
					return err
				}
				defer fh.Close()
				in = fh
			}

			ctx, cancel := signalContext()
			defer cancel()

			stats, err := generator.Feed(ctx, generator.NewJSONLinesSource(in), client.New(server), generator.Limiter(rate, burst))
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %d, skipped %d\n", stats.Submitted, stats.Skipped)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&server, "server", "http://localhost:8080", "master HTTP address")
	f.StringVarP(&file, "file", "f", "-", "JSON-lines task file, - for stdin")
	f.Float64Var(&rate, "rate", 0, "submissions per second, 0 for unlimited")
	f.IntVar(&burst, "burst", 1, "submissions allowed at once under --rate")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print cluster stats and controllers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			api := client.New(server)
			stats, err := api.Stats(ctx)
			if err != nil {
				return err
			}
			controllers, err := api.Controllers(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"stats": stats, "controllers": controllers})
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "master HTTP address")
	return cmd
}
