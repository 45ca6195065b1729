package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpaulin/freebird-go/cmd/backfill"
	"github.com/jpaulin/freebird-go/cmd/watch"
	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)

	rootCmd := &cobra.Command{
		Use:   "freebird",
		Short: "FreeBird camera event ingestion and species identification",
		Long: "FreeBird polls a VicoHome camera cloud account for motion events, " +
			"identifies the species in each event and sends a notification the " +
			"first time a species is ever seen.",
	}

	rootCmd.PersistentFlags().BoolVar(&settings.Debug, "debug", settings.Debug, "Enable debug output")

	rootCmd.AddCommand(watch.Command(settings))
	rootCmd.AddCommand(backfill.Command(settings))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
