package datastore

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/errors"
)

func newTestStore(t *testing.T) Interface {
	t.Helper()
	settings := &conf.Settings{DataDir: t.TempDir()}
	store := New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func newSighting(traceID string, ts time.Time) *Sighting {
	return &Sighting{
		TraceID:    traceID,
		Timestamp:  ts,
		DeviceName: "Feeder Cam",
	}
}

func ptrFloat(v float64) *float64 { return &v }

func TestCreateSightingGeneratesID(t *testing.T) {
	store := newTestStore(t)

	s := newSighting("trace-1", time.Now())
	require.NoError(t, store.CreateSighting(s))
	assert.NotEmpty(t, s.ID)

	got, err := store.GetSighting(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "trace-1", got.TraceID)
}

func TestCreateSightingDuplicateTraceIsBenign(t *testing.T) {
	store := newTestStore(t)

	first := newSighting("trace-dup", time.Now())
	require.NoError(t, store.CreateSighting(first))

	// A concurrent poll cycle racing on the same trace must not fail and
	// must converge on the existing row.
	second := newSighting("trace-dup", time.Now())
	require.NoError(t, store.CreateSighting(second))
	assert.Equal(t, first.ID, second.ID)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEvents)
}

func TestHasTrace(t *testing.T) {
	store := newTestStore(t)

	known, err := store.HasTrace("trace-x")
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, store.CreateSighting(newSighting("trace-x", time.Now())))

	known, err = store.HasTrace("trace-x")
	require.NoError(t, err)
	assert.True(t, known)
}

func TestIsFirstSighting(t *testing.T) {
	store := newTestStore(t)

	first, err := store.IsFirstSighting("Blue Jay")
	require.NoError(t, err)
	assert.True(t, first)

	// Empty species never counts as a first sighting.
	first, err = store.IsFirstSighting("")
	require.NoError(t, err)
	assert.False(t, first)

	s := newSighting("trace-jay", time.Now())
	require.NoError(t, store.CreateSighting(s))
	require.NoError(t, store.UpdateSpecies(s.ID, "Blue Jay", "Cyanocitta cristata", ptrFloat(0.82), true))

	first, err = store.IsFirstSighting("Blue Jay")
	require.NoError(t, err)
	assert.False(t, first)
}

func TestUpdateMediaPartial(t *testing.T) {
	store := newTestStore(t)

	s := newSighting("trace-media", time.Now())
	s.ImagePath = "/data/media/trace-media/keyshot.jpg"
	require.NoError(t, store.CreateSighting(s))

	video := "/data/media/trace-media/video.mp4"
	require.NoError(t, store.UpdateMedia(s.ID, MediaUpdate{VideoPath: &video}))

	got, err := store.GetSighting(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ImagePath, got.ImagePath)
	assert.Equal(t, video, got.VideoPath)
	assert.Empty(t, got.AudioPath)

	// All-nil update is a no-op.
	require.NoError(t, store.UpdateMedia(s.ID, MediaUpdate{}))
}

func TestUpdateSpeciesAndLifers(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	first := newSighting("trace-cardinal-1", base)
	require.NoError(t, store.CreateSighting(first))
	second := newSighting("trace-cardinal-2", base.Add(time.Hour))
	require.NoError(t, store.CreateSighting(second))

	require.NoError(t, store.UpdateSpecies(first.ID, "Northern Cardinal", "Cardinalis cardinalis", ptrFloat(0.9), true))
	require.NoError(t, store.UpdateSpecies(second.ID, "Northern Cardinal", "Cardinalis cardinalis", ptrFloat(0.7), false))

	lifers, err := store.Lifers()
	require.NoError(t, err)
	require.Len(t, lifers, 1)
	assert.Equal(t, first.ID, lifers[0].ID)
	require.NotNil(t, lifers[0].Confidence)
	assert.InDelta(t, 0.9, *lifers[0].Confidence, 1e-9)
}

func TestGetSightingNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSighting("no-such-id")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestVisionAnalysisAuditTrail(t *testing.T) {
	store := newTestStore(t)

	s := newSighting("trace-audit", time.Now())
	require.NoError(t, store.CreateSighting(s))

	latest, err := store.LatestVisionAnalysis(s.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, store.SaveVisionAnalysis(&VisionAnalysis{
		SightingID: s.ID,
		Error:      "request timed out",
		Model:      "claude-sonnet-4-5",
	}))
	require.NoError(t, store.SaveVisionAnalysis(&VisionAnalysis{
		SightingID: s.ID,
		IsBird:     true,
		Species:    "House Finch",
		Confidence: "high",
		Model:      "claude-sonnet-4-5",
	}))

	latest, err = store.LatestVisionAnalysis(s.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "House Finch", latest.Species)
	assert.Empty(t, latest.Error)
}

func TestSaveAudioAnalysis(t *testing.T) {
	store := newTestStore(t)

	s := newSighting("trace-audio", time.Now())
	require.NoError(t, store.CreateSighting(s))

	require.NoError(t, store.SaveAudioAnalysis(&AudioAnalysis{
		SightingID: s.ID,
		Species:    "Carolina Wren",
		Confidence: 0.77,
	}))
}

func TestRecentSummaryOrderingAndCache(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	for i := 0; i < 3; i++ {
		s := newSighting(fmt.Sprintf("trace-chick-%d", i), now.Add(-time.Duration(i)*time.Hour))
		require.NoError(t, store.CreateSighting(s))
		require.NoError(t, store.UpdateSpecies(s.ID, "Black-capped Chickadee", "Poecile atricapillus", ptrFloat(0.8), i == 0))
	}
	s := newSighting("trace-jay-0", now)
	require.NoError(t, store.CreateSighting(s))
	require.NoError(t, store.UpdateSpecies(s.ID, "Blue Jay", "Cyanocitta cristata", ptrFloat(0.9), true))

	summary, err := store.RecentSummary(7)
	require.NoError(t, err)
	assert.Contains(t, summary, "Last 7 days:")
	assert.Contains(t, summary, "Black-capped Chickadee: 3 visits")
	assert.Contains(t, summary, "Blue Jay: 1 visits")
	// Highest count first.
	assert.Less(t,
		strings.Index(summary, "Black-capped Chickadee"),
		strings.Index(summary, "Blue Jay"))

	// A second call within the cache window returns the cached digest even
	// after new rows land.
	extra := newSighting("trace-jay-1", now)
	require.NoError(t, store.CreateSighting(extra))
	require.NoError(t, store.UpdateSpecies(extra.ID, "Blue Jay", "Cyanocitta cristata", ptrFloat(0.9), false))

	cached, err := store.RecentSummary(7)
	require.NoError(t, err)
	assert.Equal(t, summary, cached)
}

func TestRecentSummaryEmpty(t *testing.T) {
	store := newTestStore(t)

	summary, err := store.RecentSummary(3)
	require.NoError(t, err)
	assert.Equal(t, "No bird sightings in the last 3 days.", summary)
}

func TestTodaySightingsExcludesOldAndUnidentified(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	today := newSighting("trace-today", now)
	require.NoError(t, store.CreateSighting(today))
	require.NoError(t, store.UpdateSpecies(today.ID, "Mourning Dove", "Zenaida macroura", ptrFloat(0.6), true))

	yesterday := newSighting("trace-yesterday", now.Add(-48*time.Hour))
	require.NoError(t, store.CreateSighting(yesterday))
	require.NoError(t, store.UpdateSpecies(yesterday.ID, "Mourning Dove", "Zenaida macroura", ptrFloat(0.6), false))

	unidentified := newSighting("trace-unknown", now)
	require.NoError(t, store.CreateSighting(unidentified))

	sightings, err := store.TodaySightings()
	require.NoError(t, err)
	require.Len(t, sightings, 1)
	assert.Equal(t, today.ID, sightings[0].ID)
}

func TestSearchSpeciesMatchesCommonAndLatin(t *testing.T) {
	store := newTestStore(t)

	s := newSighting("trace-search", time.Now())
	require.NoError(t, store.CreateSighting(s))
	require.NoError(t, store.UpdateSpecies(s.ID, "American Goldfinch", "Spinus tristis", ptrFloat(0.85), true))

	byCommon, err := store.SearchSpecies("goldfinch")
	require.NoError(t, err)
	require.Len(t, byCommon, 1)

	byLatin, err := store.SearchSpecies("Spinus")
	require.NoError(t, err)
	require.Len(t, byLatin, 1)

	none, err := store.SearchSpecies("penguin")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUnidentifiedSightingsRequireLocalImage(t *testing.T) {
	store := newTestStore(t)

	withImage := newSighting("trace-bf-1", time.Now().Add(-time.Hour))
	withImage.ImagePath = "/data/media/trace-bf-1/keyshot.jpg"
	require.NoError(t, store.CreateSighting(withImage))

	noImage := newSighting("trace-bf-2", time.Now())
	require.NoError(t, store.CreateSighting(noImage))

	identified := newSighting("trace-bf-3", time.Now())
	identified.ImagePath = "/data/media/trace-bf-3/keyshot.jpg"
	require.NoError(t, store.CreateSighting(identified))
	require.NoError(t, store.UpdateSpecies(identified.ID, "Tufted Titmouse", "Baeolophus bicolor", ptrFloat(0.8), true))

	pending, err := store.UnidentifiedSightings()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, withImage.ID, pending[0].ID)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	for i, species := range []string{"Blue Jay", "Blue Jay", "Northern Cardinal", ""} {
		s := newSighting(fmt.Sprintf("trace-stats-%d", i), now)
		require.NoError(t, store.CreateSighting(s))
		if species != "" {
			require.NoError(t, store.UpdateSpecies(s.ID, species, "", ptrFloat(0.8), i == 0 || i == 2))
		}
	}

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalEvents)
	assert.Equal(t, int64(3), stats.Identified)
	assert.Equal(t, int64(2), stats.UniqueSpecies)
	assert.Equal(t, int64(2), stats.Lifers)
	require.NotEmpty(t, stats.TopSpecies)
	assert.Equal(t, "Blue Jay", stats.TopSpecies[0].Species)
	assert.Equal(t, 2, stats.TopSpecies[0].Count)
}
