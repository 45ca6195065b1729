package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/datastore"
	"github.com/jpaulin/freebird-go/internal/observability"
)

func summarySettings() *conf.Settings {
	return &conf.Settings{
		Summary: conf.SummarySettings{Enabled: true, Hour: 18, Minute: 0, Timezone: "UTC"},
	}
}

func TestNextOccurrence(t *testing.T) {
	s := NewSummaryScheduler(summarySettings(), nil, nil, nil)

	morning := time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)
	next := s.nextOccurrence(morning)
	assert.Equal(t, time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC), next)

	// At or past the target time, the next occurrence is tomorrow.
	atTarget := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 11, 18, 0, 0, 0, time.UTC), s.nextOccurrence(atTarget))

	evening := time.Date(2026, 5, 10, 22, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 11, 18, 0, 0, 0, time.UTC), s.nextOccurrence(evening))
}

func TestNewSummarySchedulerInvalidTimezoneFallsBack(t *testing.T) {
	settings := summarySettings()
	settings.Summary.Timezone = "Not/AZone"
	s := NewSummaryScheduler(settings, nil, nil, nil)
	assert.Equal(t, time.Local, s.location)
}

func TestSendSummaryDigest(t *testing.T) {
	store := newPipelineStore(t)
	notifier := &recordingNotifier{}
	metrics := observability.NewMetrics()
	s := NewSummaryScheduler(summarySettings(), store, notifier, metrics)

	now := time.Now()
	confidence := 0.8
	for i, name := range []string{"Blue Jay", "Blue Jay", "Northern Cardinal"} {
		row := &datastore.Sighting{TraceID: fmt.Sprintf("trace-sum-%d", i), Timestamp: now}
		require.NoError(t, store.CreateSighting(row))
		require.NoError(t, store.UpdateSpecies(row.ID, name, "", &confidence, false))
	}

	require.NoError(t, s.sendSummary(context.Background()))
	require.Len(t, notifier.summaries, 1)

	digest := notifier.summaries[0]
	assert.Contains(t, digest, "Total visits: 3")
	assert.Contains(t, digest, "Unique species: 2")
	assert.Contains(t, digest, "Blue Jay: 2")
	assert.Contains(t, digest, "Northern Cardinal: 1")
	// Highest count listed first.
	assert.Less(t, strings.Index(digest, "Blue Jay"), strings.Index(digest, "Northern Cardinal"))
}

func TestSendSummaryNoSightings(t *testing.T) {
	store := newPipelineStore(t)
	notifier := &recordingNotifier{}
	s := NewSummaryScheduler(summarySettings(), store, notifier, observability.NewMetrics())

	require.NoError(t, s.sendSummary(context.Background()))
	require.Len(t, notifier.summaries, 1)
	assert.Contains(t, notifier.summaries[0], "No bird sightings today")
}
