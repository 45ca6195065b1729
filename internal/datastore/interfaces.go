// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/jpaulin/freebird-go/internal/errors"
)

// summaryCacheTTL bounds how often the textual summary digest is rebuilt.
const summaryCacheTTL = 5 * time.Minute

// Interface abstracts the underlying database implementation and defines
// the repository contract the pipeline depends on.
type Interface interface {
	Open() error
	Close() error

	HasTrace(traceID string) (bool, error)
	IsFirstSighting(species string) (bool, error)
	CreateSighting(s *Sighting) error
	UpdateMedia(sightingID string, update MediaUpdate) error
	UpdateSpecies(sightingID string, species, speciesLatin string, confidence *float64, isLifer bool) error
	GetSighting(sightingID string) (*Sighting, error)

	SaveVisionAnalysis(a *VisionAnalysis) error
	SaveAudioAnalysis(a *AudioAnalysis) error
	LatestVisionAnalysis(sightingID string) (*VisionAnalysis, error)

	RecentSummary(days int) (string, error)
	TodaySightings() ([]Sighting, error)
	Lifers() ([]Sighting, error)
	SearchSpecies(query string) ([]Sighting, error)
	UnidentifiedSightings() ([]Sighting, error)
	GetStats() (*Stats, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB    *gorm.DB
	cache *gocache.Cache
}

// HasTrace reports whether a sighting with the given trace identifier has
// already been persisted.
func (ds *DataStore) HasTrace(traceID string) (bool, error) {
	var count int64
	err := ds.DB.Model(&Sighting{}).
		Where("trace_id = ?", traceID).
		Count(&count).Error
	if err != nil {
		return false, errors.Newf("checking trace id: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return count > 0, nil
}

// IsFirstSighting reports whether no prior persisted sighting holds the
// exact species value. An empty species is never a first sighting.
func (ds *DataStore) IsFirstSighting(species string) (bool, error) {
	if species == "" {
		return false, nil
	}
	var count int64
	err := ds.DB.Model(&Sighting{}).
		Where("species = ?", species).
		Count(&count).Error
	if err != nil {
		return false, errors.Newf("checking first sighting: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return count == 0, nil
}

// CreateSighting inserts a new sighting, generating its ID when unset. A
// duplicate trace identifier is treated as a benign race: the existing
// record's ID is loaded into s and no error is returned.
func (ds *DataStore) CreateSighting(s *Sighting) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	err := ds.DB.Create(s).Error
	if err == nil {
		return nil
	}

	if isDuplicateKeyError(err) {
		var existing Sighting
		if lookupErr := ds.DB.Where("trace_id = ?", s.TraceID).First(&existing).Error; lookupErr == nil {
			*s = existing
			return nil
		}
		return errors.Newf("duplicate trace id %s but existing sighting not found", s.TraceID).
			Component("datastore").
			Category(errors.CategoryConflict).
			Build()
	}

	return errors.Newf("creating sighting: %w", err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("trace_id", s.TraceID).
		Build()
}

// isDuplicateKeyError reports whether err is a unique-constraint violation.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// sqlite driver errors are not always translated by gorm
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UpdateMedia applies a partial update of local artifact paths. Nil fields
// are ignored; the call is idempotent.
func (ds *DataStore) UpdateMedia(sightingID string, update MediaUpdate) error {
	fields := map[string]any{}
	if update.ImagePath != nil {
		fields["image_path"] = *update.ImagePath
	}
	if update.VideoPath != nil {
		fields["video_path"] = *update.VideoPath
	}
	if update.AudioPath != nil {
		fields["audio_path"] = *update.AudioPath
	}
	if len(fields) == 0 {
		return nil
	}
	err := ds.DB.Model(&Sighting{}).
		Where("id = ?", sightingID).
		Updates(fields).Error
	if err != nil {
		return errors.Newf("updating media paths: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("sighting_id", sightingID).
			Build()
	}
	return nil
}

// UpdateSpecies sets the resolved species fields and the lifer flag. The
// lifer flag is computed by the caller at species assignment time and is not
// recomputed retroactively.
func (ds *DataStore) UpdateSpecies(sightingID string, species, speciesLatin string, confidence *float64, isLifer bool) error {
	err := ds.DB.Model(&Sighting{}).
		Where("id = ?", sightingID).
		Updates(map[string]any{
			"species":       species,
			"species_latin": speciesLatin,
			"confidence":    confidence,
			"is_lifer":      isLifer,
		}).Error
	if err != nil {
		return errors.Newf("updating species: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("sighting_id", sightingID).
			Build()
	}
	return nil
}

// GetSighting retrieves a sighting by its ID.
func (ds *DataStore) GetSighting(sightingID string) (*Sighting, error) {
	var s Sighting
	err := ds.DB.First(&s, "id = ?", sightingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Newf("sighting %s not found", sightingID).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	if err != nil {
		return nil, errors.Newf("getting sighting: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return &s, nil
}

// SaveVisionAnalysis appends one image classifier audit record.
func (ds *DataStore) SaveVisionAnalysis(a *VisionAnalysis) error {
	if err := ds.DB.Create(a).Error; err != nil {
		return errors.Newf("saving vision analysis: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("sighting_id", a.SightingID).
			Build()
	}
	return nil
}

// SaveAudioAnalysis appends one acoustic classifier audit record.
func (ds *DataStore) SaveAudioAnalysis(a *AudioAnalysis) error {
	if err := ds.DB.Create(a).Error; err != nil {
		return errors.Newf("saving audio analysis: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("sighting_id", a.SightingID).
			Build()
	}
	return nil
}

// LatestVisionAnalysis returns the most recent vision audit record for a
// sighting, or nil when none exists.
func (ds *DataStore) LatestVisionAnalysis(sightingID string) (*VisionAnalysis, error) {
	var a VisionAnalysis
	err := ds.DB.Where("sighting_id = ?", sightingID).
		Order("id DESC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Newf("getting vision analysis: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return &a, nil
}

// RecentSummary builds a textual per-species digest over the last N days.
// The digest is cached briefly since it backs summary notifications that
// may be requested repeatedly.
func (ds *DataStore) RecentSummary(days int) (string, error) {
	cacheKey := fmt.Sprintf("summary:%d", days)
	if cached, found := ds.cache.Get(cacheKey); found {
		if summary, ok := cached.(string); ok {
			return summary, nil
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	var rows []SpeciesCount
	err := ds.DB.Model(&Sighting{}).
		Select("species, COUNT(*) as count, MAX(timestamp) as last_seen").
		Where("species <> '' AND timestamp >= ?", since).
		Group("species").
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return "", errors.Newf("building recent summary: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	if len(rows) == 0 {
		return fmt.Sprintf("No bird sightings in the last %d days.", days), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last %d days:", days)
	for i := range rows {
		fmt.Fprintf(&b, "\n- %s: %d visits (last: %s)",
			rows[i].Species, rows[i].Count, rows[i].LastSeen.Format("2006-01-02 15:04"))
	}
	summary := b.String()
	ds.cache.Set(cacheKey, summary, gocache.DefaultExpiration)
	return summary, nil
}

// TodaySightings returns today's identified sightings, most recent first.
func (ds *DataStore) TodaySightings() ([]Sighting, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var sightings []Sighting
	err := ds.DB.Where("timestamp >= ? AND species <> ''", midnight).
		Order("timestamp DESC").
		Find(&sightings).Error
	if err != nil {
		return nil, errors.Newf("getting today's sightings: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return sightings, nil
}

// Lifers returns all first-ever sightings in chronological order.
func (ds *DataStore) Lifers() ([]Sighting, error) {
	var sightings []Sighting
	err := ds.DB.Where("is_lifer = ?", true).
		Order("timestamp ASC").
		Find(&sightings).Error
	if err != nil {
		return nil, errors.Newf("getting lifers: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return sightings, nil
}

// SearchSpecies finds sightings whose common or scientific name matches the
// query, most recent first, capped at 20 rows.
func (ds *DataStore) SearchSpecies(query string) ([]Sighting, error) {
	pattern := "%" + query + "%"
	var sightings []Sighting
	err := ds.DB.Where("species LIKE ? OR species_latin LIKE ?", pattern, pattern).
		Order("timestamp DESC").
		Limit(20).
		Find(&sightings).Error
	if err != nil {
		return nil, errors.Newf("searching species: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return sightings, nil
}

// UnidentifiedSightings returns sightings without a resolved species that
// have a local image artifact, oldest first. Used by the backfill command.
func (ds *DataStore) UnidentifiedSightings() ([]Sighting, error) {
	var sightings []Sighting
	err := ds.DB.Where("species = '' AND image_path <> ''").
		Order("timestamp ASC").
		Find(&sightings).Error
	if err != nil {
		return nil, errors.Newf("getting unidentified sightings: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return sightings, nil
}

// GetStats summarizes the whole sighting history.
func (ds *DataStore) GetStats() (*Stats, error) {
	stats := &Stats{}

	if err := ds.DB.Model(&Sighting{}).Count(&stats.TotalEvents).Error; err != nil {
		return nil, statsError(err)
	}
	if err := ds.DB.Model(&Sighting{}).Where("species <> ''").Count(&stats.Identified).Error; err != nil {
		return nil, statsError(err)
	}
	if err := ds.DB.Model(&Sighting{}).Where("species <> ''").
		Distinct("species").Count(&stats.UniqueSpecies).Error; err != nil {
		return nil, statsError(err)
	}
	if err := ds.DB.Model(&Sighting{}).Where("is_lifer = ?", true).Count(&stats.Lifers).Error; err != nil {
		return nil, statsError(err)
	}
	err := ds.DB.Model(&Sighting{}).
		Select("species, COUNT(*) as count").
		Where("species <> ''").
		Group("species").
		Order("count DESC").
		Limit(5).
		Scan(&stats.TopSpecies).Error
	if err != nil {
		return nil, statsError(err)
	}
	return stats, nil
}

func statsError(err error) error {
	return errors.Newf("computing stats: %w", err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Build()
}
