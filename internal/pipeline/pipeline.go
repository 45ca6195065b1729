// Package pipeline is the ingestion orchestrator. It polls the camera
// cloud on a fixed interval with an overlapping lookback window, filters
// out already-seen events through the datastore, drives each new event
// through media acquisition and species resolution, and notifies exactly
// once per lifer. It also owns the health alerting state machine.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/datastore"
	"github.com/jpaulin/freebird-go/internal/logging"
	"github.com/jpaulin/freebird-go/internal/notification"
	"github.com/jpaulin/freebird-go/internal/observability"
	"github.com/jpaulin/freebird-go/internal/species"
	"github.com/jpaulin/freebird-go/internal/vicohome"
)

var logger *slog.Logger

func init() {
	logger = logging.ForService("pipeline")
}

// EventSource pulls motion events from the camera cloud.
type EventSource interface {
	ListEvents(ctx context.Context, start, end time.Time) ([]vicohome.Event, error)
}

// MediaFetcher acquires local artifacts for an event.
type MediaFetcher interface {
	FetchImage(ctx context.Context, url, traceID string) (string, error)
	FetchVideo(ctx context.Context, m3u8URL, traceID string) (string, error)
	ExtractAudio(ctx context.Context, videoPath, traceID string) (string, error)
}

// SpeciesResolver produces the single best species call for an event.
type SpeciesResolver interface {
	Resolve(ctx context.Context, event *vicohome.Event, sightingID string, artifacts species.Artifacts) *species.Identification
}

// Pipeline drives the poll loop. Events within one cycle are processed
// sequentially to keep notification ordering deterministic and to bound
// concurrent load on the rate-limited classifier services.
type Pipeline struct {
	source   EventSource
	store    datastore.Interface
	fetcher  MediaFetcher
	resolver SpeciesResolver
	notifier notification.Notifier
	metrics  *observability.Metrics

	interval       time.Duration
	lookback       time.Duration
	alertThreshold time.Duration

	// Health tracking: crossing alertThreshold since lastSuccess triggers
	// exactly one alert; a successful cycle re-arms alerting.
	lastSuccess  time.Time
	errorAlerted bool
}

// New creates a Pipeline from the configured poll settings.
func New(settings *conf.Settings, source EventSource, store datastore.Interface,
	fetcher MediaFetcher, resolver SpeciesResolver, notifier notification.Notifier,
	metrics *observability.Metrics,
) *Pipeline {
	return &Pipeline{
		source:         source,
		store:          store,
		fetcher:        fetcher,
		resolver:       resolver,
		notifier:       notifier,
		metrics:        metrics,
		interval:       time.Duration(settings.Poll.Interval) * time.Second,
		lookback:       time.Duration(settings.Poll.Lookback) * time.Second,
		alertThreshold: time.Duration(settings.Poll.AlertThreshold) * time.Second,
		lastSuccess:    time.Now(),
	}
}

// Run executes the poll loop until ctx is cancelled. The first cycle runs
// immediately to catch up on the lookback window after a restart.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Info("pipeline started",
		"interval", p.interval,
		"lookback", p.lookback,
		"alert_threshold", p.alertThreshold)

	p.runOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("pipeline stopped")
			return ctx.Err()
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

// runOnce executes one poll cycle and updates the health tracker.
func (p *Pipeline) runOnce(ctx context.Context) {
	if err := p.pollCycle(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("poll cycle failed", "error", err)
		p.metrics.PollCycles.WithLabelValues("failure").Inc()
		p.noteFailure(ctx)
		return
	}
	p.metrics.PollCycles.WithLabelValues("success").Inc()
	p.lastSuccess = time.Now()
	p.errorAlerted = false
}

// noteFailure escalates a sustained outage to the operator exactly once.
// The alert is suppressed on subsequent failing cycles until a success
// resets the flag.
func (p *Pipeline) noteFailure(ctx context.Context) {
	elapsed := time.Since(p.lastSuccess)
	if elapsed <= p.alertThreshold || p.errorAlerted {
		return
	}
	message := fmt.Sprintf("Pipeline has been failing for %ds. Check logs.", int(elapsed.Seconds()))
	if err := p.notifier.NotifyHealthAlert(ctx, message); err != nil {
		logger.Error("failed to send health alert", "error", err)
	}
	p.metrics.NotificationsSent.WithLabelValues("health").Inc()
	p.errorAlerted = true
}

// pollCycle fetches the lookback window and processes every event not yet
// known to the repository. A single event's failure is isolated: siblings
// still run and the cycle itself still counts as successful.
func (p *Pipeline) pollCycle(ctx context.Context) error {
	now := time.Now()
	start := now.Add(-p.lookback)

	events, err := p.source.ListEvents(ctx, start, now)
	if err != nil {
		return err
	}

	newCount := 0
	for i := range events {
		event := &events[i]
		seen, err := p.store.HasTrace(event.TraceID)
		if err != nil {
			return err
		}
		if seen {
			continue
		}
		newCount++
		if err := p.processEvent(ctx, event); err != nil {
			logger.Error("event processing failed",
				"trace_id", event.TraceID,
				"error", err)
		}
	}

	if newCount > 0 {
		logger.Info("poll cycle complete", "new_events", newCount, "fetched", len(events))
	}
	return nil
}

// processEvent drives one new event through acquisition, persistence,
// species resolution and conditional notification.
func (p *Pipeline) processEvent(ctx context.Context, event *vicohome.Event) error {
	logger.Info("processing event",
		"trace_id", event.TraceID,
		"device", event.DeviceName)

	// Keyshot first: the sighting row records the image path from creation.
	imagePath, err := p.fetcher.FetchImage(ctx, event.KeyshotURL(), event.TraceID)
	if err != nil {
		logger.Warn("keyshot download failed", "trace_id", event.TraceID, "error", err)
	}

	// Create the sighting immediately so the dedup contract holds even if
	// enrichment fails below. Duplicate trace IDs resolve to the existing
	// row inside CreateSighting.
	sighting := &datastore.Sighting{
		TraceID:    event.TraceID,
		Timestamp:  time.Unix(int64(event.Timestamp), 0).UTC(),
		DeviceName: event.DeviceName,
		ImagePath:  imagePath,
	}
	if err := p.store.CreateSighting(sighting); err != nil {
		return err
	}
	p.metrics.EventsProcessed.Inc()

	// Video and audio are best effort; species resolution proceeds with
	// whatever artifacts were acquired.
	videoPath, err := p.fetcher.FetchVideo(ctx, event.VideoURL, event.TraceID)
	if err != nil {
		logger.Warn("video download failed", "trace_id", event.TraceID, "error", err)
	}
	var audioPath string
	if videoPath != "" {
		audioPath, err = p.fetcher.ExtractAudio(ctx, videoPath, event.TraceID)
		if err != nil {
			logger.Warn("audio extraction failed", "trace_id", event.TraceID, "error", err)
		}
	}

	update := datastore.MediaUpdate{}
	if videoPath != "" {
		update.VideoPath = &videoPath
	}
	if audioPath != "" {
		update.AudioPath = &audioPath
	}
	if err := p.store.UpdateMedia(sighting.ID, update); err != nil {
		logger.Warn("media path update failed", "sighting_id", sighting.ID, "error", err)
	}

	ident := p.resolver.Resolve(ctx, event, sighting.ID, species.Artifacts{
		ImagePath: imagePath,
		AudioPath: audioPath,
	})
	if ident == nil {
		logger.Info("no species identification", "trace_id", event.TraceID)
		return nil
	}

	// The lifer determination is made at species assignment time and is
	// authoritative for this sighting, regardless of later corrections.
	isLifer, err := p.store.IsFirstSighting(ident.Species)
	if err != nil {
		return err
	}
	confidence := ident.Confidence
	if err := p.store.UpdateSpecies(sighting.ID, ident.Species, ident.SpeciesLatin, &confidence, isLifer); err != nil {
		return err
	}

	if isLifer {
		logger.Info("new lifer", "species", ident.Species, "source", ident.Source)
		p.metrics.LifersDetected.Inc()
		if err := p.notifier.NotifyNewSpecies(ctx, ident.Species, &confidence, imagePath); err != nil {
			logger.Error("failed to send lifer notification", "error", err)
		}
		p.metrics.NotificationsSent.WithLabelValues("lifer").Inc()
	}
	return nil
}
