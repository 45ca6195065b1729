// model.go this code defines the data model for the application
package datastore

import "time"

// Sighting is the persisted record of one motion event. TraceID uniqueness
// is enforced by the database; the pipeline's dedup check is advisory only.
type Sighting struct {
	ID           string `gorm:"primaryKey"`
	TraceID      string `gorm:"uniqueIndex;not null"`
	Species      string `gorm:"index:idx_sightings_species"`
	SpeciesLatin string
	Confidence   *float64
	Timestamp    time.Time `gorm:"index:idx_sightings_timestamp;not null"`
	DeviceName   string
	ImagePath    string
	VideoPath    string
	AudioPath    string
	IsLifer      bool
	CreatedAt    time.Time
}

// VisionAnalysis is one image classifier invocation for a sighting.
// Append-only audit trail; the most recent row is authoritative.
type VisionAnalysis struct {
	ID           uint   `gorm:"primaryKey"`
	SightingID   string `gorm:"index:idx_vision_sighting;not null"`
	IsBird       bool
	AnimalType   string
	Species      string
	SpeciesLatin string
	Confidence   string // coarse label: high, medium or low
	Count        int
	Sex          string
	Age          string
	Behavior     string
	Notable      string
	RawResponse  string `gorm:"type:text"`
	Model        string
	Error        string
	CreatedAt    time.Time
}

// AudioAnalysis is one acoustic classifier invocation for a sighting.
// Append-only audit trail like VisionAnalysis.
type AudioAnalysis struct {
	ID           uint   `gorm:"primaryKey"`
	SightingID   string `gorm:"index:idx_audio_sighting;not null"`
	Species      string
	SpeciesLatin string
	Confidence   float64
	Model        string
	Error        string
	CreatedAt    time.Time
}

// MediaUpdate is a partial update of a sighting's local artifact paths.
// Nil fields are left untouched.
type MediaUpdate struct {
	ImagePath *string
	VideoPath *string
	AudioPath *string
}

// SpeciesCount is one row of an aggregated per-species summary.
type SpeciesCount struct {
	Species  string
	Count    int
	LastSeen time.Time
}

// Stats summarizes the whole sighting history.
type Stats struct {
	TotalEvents   int64
	Identified    int64
	UniqueSpecies int64
	Lifers        int64
	TopSpecies    []SpeciesCount
}
