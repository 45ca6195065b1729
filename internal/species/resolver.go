// Package species resolves a motion event to a single best species call by
// running an ordered chain of identification strategies: acoustic
// classification, image classification, then the vendor's own on-device
// guess. The first strategy producing a result wins.
package species

import (
	"context"
	"log/slog"

	"github.com/jpaulin/freebird-go/internal/birdnet"
	"github.com/jpaulin/freebird-go/internal/datastore"
	"github.com/jpaulin/freebird-go/internal/logging"
	"github.com/jpaulin/freebird-go/internal/observability"
	"github.com/jpaulin/freebird-go/internal/vicohome"
	"github.com/jpaulin/freebird-go/internal/vision"
)

// Identification sources, in precedence order.
const (
	SourceAcoustic = "acoustic"
	SourceVision   = "vision"
	SourceVendor   = "vendor"
)

// Vision confidence anchors. The image classifier reports a coarse label
// rather than a calibrated probability; labels map to these fixed values.
const (
	visionConfidenceHigh    = 0.9
	visionConfidenceMedium  = 0.7
	visionConfidenceLow     = 0.4
	visionConfidenceUnknown = 0.5
)

var logger *slog.Logger

func init() {
	logger = logging.ForService("species")
}

// Identification is the resolver's single best species call.
type Identification struct {
	Species      string
	SpeciesLatin string
	Confidence   float64
	Source       string
}

// Artifacts are the locally acquired media files for an event. Empty paths
// mean the artifact could not be acquired.
type Artifacts struct {
	ImagePath string
	AudioPath string
}

// Strategy attempts one identification approach. A nil result with nil
// error means "no identification from this step"; an error is recorded and
// likewise treated as no result, it never aborts the chain.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, event *vicohome.Event, sightingID string, artifacts Artifacts) (*Identification, error)
}

// Resolver runs the fallback chain and audits every classifier invocation.
type Resolver struct {
	store      datastore.Interface
	metrics    *observability.Metrics
	strategies []Strategy
}

// NewResolver builds the resolver with the fixed strategy precedence. Nil
// classifier clients simply disable their step; metrics may be nil.
func NewResolver(store datastore.Interface, acoustic *birdnet.Client, visual *vision.Client, metrics *observability.Metrics) *Resolver {
	r := &Resolver{store: store, metrics: metrics}

	if acoustic != nil {
		r.strategies = append(r.strategies, Strategy{
			Name: SourceAcoustic,
			Run:  r.acousticStrategy(acoustic),
		})
	}
	if visual != nil {
		r.strategies = append(r.strategies, Strategy{
			Name: SourceVision,
			Run:  r.visionStrategy(visual),
		})
	}
	r.strategies = append(r.strategies, Strategy{
		Name: SourceVendor,
		Run:  vendorStrategy,
	})

	return r
}

// Resolve evaluates the strategies left to right and returns the first
// non-empty identification, or nil when no step produced one.
func (r *Resolver) Resolve(ctx context.Context, event *vicohome.Event, sightingID string, artifacts Artifacts) *Identification {
	for i := range r.strategies {
		s := &r.strategies[i]
		ident, err := s.Run(ctx, event, sightingID, artifacts)
		if err != nil {
			if r.metrics != nil {
				r.metrics.ClassifierErrors.WithLabelValues(s.Name).Inc()
			}
			logger.Warn("identification strategy failed",
				"strategy", s.Name,
				"trace_id", event.TraceID,
				"error", err)
			continue
		}
		if ident != nil {
			logger.Info("species resolved",
				"strategy", s.Name,
				"species", ident.Species,
				"confidence", ident.Confidence,
				"trace_id", event.TraceID)
			return ident
		}
	}
	return nil
}

// acousticStrategy accepts a result only when the classifier's raw score
// meets the configured threshold, which the client enforces. Every
// invocation is recorded as an audit entry, including failures.
func (r *Resolver) acousticStrategy(client *birdnet.Client) func(context.Context, *vicohome.Event, string, Artifacts) (*Identification, error) {
	return func(ctx context.Context, event *vicohome.Event, sightingID string, artifacts Artifacts) (*Identification, error) {
		if artifacts.AudioPath == "" {
			return nil, nil
		}

		detection, err := client.Analyze(ctx, artifacts.AudioPath)

		audit := &datastore.AudioAnalysis{
			SightingID: sightingID,
			Model:      "birdnet",
		}
		if err != nil {
			audit.Error = err.Error()
		} else if detection != nil {
			audit.Species = detection.Species
			audit.SpeciesLatin = detection.SpeciesLatin
			audit.Confidence = detection.Confidence
		}
		if saveErr := r.store.SaveAudioAnalysis(audit); saveErr != nil {
			logger.Error("failed to save audio analysis record", "error", saveErr)
		}

		if err != nil || detection == nil {
			return nil, err
		}
		return &Identification{
			Species:      detection.Species,
			SpeciesLatin: detection.SpeciesLatin,
			Confidence:   detection.Confidence,
			Source:       SourceAcoustic,
		}, nil
	}
}

// visionStrategy accepts a result only when the classifier reports a bird
// with a non-empty species name. The coarse confidence label is mapped to
// fixed numeric anchors.
func (r *Resolver) visionStrategy(client *vision.Client) func(context.Context, *vicohome.Event, string, Artifacts) (*Identification, error) {
	return func(ctx context.Context, event *vicohome.Event, sightingID string, artifacts Artifacts) (*Identification, error) {
		if artifacts.ImagePath == "" {
			return nil, nil
		}

		result, err := client.Analyze(ctx, artifacts.ImagePath)

		audit := &datastore.VisionAnalysis{
			SightingID: sightingID,
			Model:      client.Model(),
		}
		if err != nil {
			audit.Error = err.Error()
		} else if result != nil {
			audit.IsBird = result.IsBird
			audit.AnimalType = result.AnimalType
			audit.Species = result.Species
			audit.SpeciesLatin = result.SpeciesLatin
			audit.Confidence = result.Confidence
			audit.Count = result.Count
			audit.Sex = result.Sex
			audit.Age = result.Age
			audit.Behavior = result.Behavior
			audit.Notable = result.Notable
			audit.RawResponse = result.RawResponse
		}
		if saveErr := r.store.SaveVisionAnalysis(audit); saveErr != nil {
			logger.Error("failed to save vision analysis record", "error", saveErr)
		}

		if err != nil {
			return nil, err
		}
		if result == nil || !result.IsBird || result.Species == "" {
			return nil, nil
		}
		return &Identification{
			Species:      result.Species,
			SpeciesLatin: result.SpeciesLatin,
			Confidence:   MapVisionConfidence(result.Confidence),
			Source:       SourceVision,
		}, nil
	}
}

// vendorStrategy falls back to the camera's own on-device species guess.
func vendorStrategy(ctx context.Context, event *vicohome.Event, sightingID string, artifacts Artifacts) (*Identification, error) {
	name := event.BirdName()
	if name == "" {
		return nil, nil
	}
	return &Identification{
		Species:      name,
		SpeciesLatin: event.BirdLatin(),
		Confidence:   event.BirdConfidence(),
		Source:       SourceVendor,
	}, nil
}

// MapVisionConfidence maps the image classifier's coarse confidence label
// to a fixed numeric anchor. Unrecognized or missing labels map to 0.5.
func MapVisionConfidence(label string) float64 {
	switch label {
	case "high":
		return visionConfidenceHigh
	case "medium":
		return visionConfidenceMedium
	case "low":
		return visionConfidenceLow
	default:
		return visionConfidenceUnknown
	}
}
