// Package watch implements the watch command: the long-running event
// ingestion pipeline plus the daily summary scheduler.
package watch

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jpaulin/freebird-go/internal/birdnet"
	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/datastore"
	"github.com/jpaulin/freebird-go/internal/media"
	"github.com/jpaulin/freebird-go/internal/notification"
	"github.com/jpaulin/freebird-go/internal/observability"
	"github.com/jpaulin/freebird-go/internal/pipeline"
	"github.com/jpaulin/freebird-go/internal/species"
	"github.com/jpaulin/freebird-go/internal/vicohome"
	"github.com/jpaulin/freebird-go/internal/vision"
)

// Command creates the watch command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the camera cloud and process motion events",
		Long:  "Start the ingestion pipeline: poll for motion events, identify species and notify on new lifers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(settings)
		},
	}

	cmd.Flags().IntVar(&settings.Poll.Interval, "interval", viper.GetInt("poll.interval"), "Seconds between poll cycles")
	cmd.Flags().IntVar(&settings.Poll.Lookback, "lookback", viper.GetInt("poll.lookback"), "Seconds of overlapping lookback window")
	cmd.Flags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Enable Prometheus metrics endpoint")
	cmd.Flags().StringVar(&settings.Metrics.Listen, "listen", viper.GetString("metrics.listen"), "Listen address of the metrics endpoint")

	return cmd
}

// runWatch wires the components together and runs them until a shutdown
// signal arrives.
func runWatch(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close datastore", "error", err)
		}
	}()

	notifier, err := notification.New(settings)
	if err != nil {
		return err
	}

	auth := vicohome.NewTokenManager(settings)
	client := vicohome.NewClient(settings, auth)
	defer client.Close()

	metrics := observability.NewMetrics()
	resolver := species.NewResolver(store, birdnet.NewClient(settings), vision.NewClient(settings), metrics)
	fetcher := media.NewDownloader(settings)

	pipe := pipeline.New(settings, client, store, fetcher, resolver, notifier, metrics)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return pipe.Run(groupCtx)
	})
	if settings.Summary.Enabled {
		scheduler := pipeline.NewSummaryScheduler(settings, store, notifier, metrics)
		group.Go(func() error {
			return scheduler.Run(groupCtx)
		})
	}
	if settings.Metrics.Enabled {
		group.Go(func() error {
			return metrics.Serve(groupCtx, settings.Metrics.Listen)
		})
	}

	slog.Info("freebird is running", "interval_s", settings.Poll.Interval)

	err = group.Wait()
	if err != nil && ctx.Err() != nil {
		// Normal shutdown via signal.
		slog.Info("freebird stopped")
		return nil
	}
	return err
}
