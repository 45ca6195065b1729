// Package backfill implements the backfill command: re-run image analysis
// on persisted sightings that never got a species identification.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/datastore"
	"github.com/jpaulin/freebird-go/internal/species"
	"github.com/jpaulin/freebird-go/internal/vicohome"
	"github.com/jpaulin/freebird-go/internal/vision"
)

// Command creates the backfill command.
func Command(settings *conf.Settings) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-run species identification on unidentified sightings",
		Long: "Run the image classifier over persisted sightings that have a keyshot " +
			"on disk but no resolved species, and update their species fields. " +
			"Lifer flags of other sightings are not recomputed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(settings, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum sightings to process (0 = all)")

	return cmd
}

func runBackfill(settings *conf.Settings, limit int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	visionClient := vision.NewClient(settings)
	if visionClient == nil {
		return fmt.Errorf("backfill requires a configured vision endpoint and API key")
	}

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close datastore", "error", err)
		}
	}()

	sightings, err := store.UnidentifiedSightings()
	if err != nil {
		return err
	}
	if limit > 0 && len(sightings) > limit {
		sightings = sightings[:limit]
	}
	slog.Info("backfill starting", "candidates", len(sightings))

	resolver := species.NewResolver(store, nil, visionClient, nil)
	identified := 0

	for i := range sightings {
		if ctx.Err() != nil {
			break
		}
		s := &sightings[i]
		if _, err := os.Stat(s.ImagePath); err != nil {
			slog.Warn("keyshot missing on disk, skipping", "sighting_id", s.ID, "path", s.ImagePath)
			continue
		}

		event := &vicohome.Event{TraceID: s.TraceID}
		ident := resolver.Resolve(ctx, event, s.ID, species.Artifacts{ImagePath: s.ImagePath})
		if ident == nil {
			continue
		}

		// The lifer flag is computed at assignment time, like the live
		// pipeline does. Earlier sightings' flags are deliberately left
		// alone even if this backfill changes which sighting was first.
		isLifer, err := store.IsFirstSighting(ident.Species)
		if err != nil {
			return err
		}
		confidence := ident.Confidence
		if err := store.UpdateSpecies(s.ID, ident.Species, ident.SpeciesLatin, &confidence, isLifer); err != nil {
			return err
		}
		identified++
		slog.Info("backfilled sighting",
			"sighting_id", s.ID,
			"species", ident.Species,
			"is_lifer", isLifer)
	}

	slog.Info("backfill complete", "identified", identified, "processed", len(sightings))
	return nil
}
