package vicohome

// SubcategoryInfo is one per-object classification attached to an event by
// the camera's on-device detector.
type SubcategoryInfo struct {
	ObjectType  string  `json:"objectType"`
	ObjectName  string  `json:"objectName"`
	BirdStdName string  `json:"birdStdName"`
	Confidence  float64 `json:"confidence"`
}

// Keyshot is a representative still image attached to a motion event.
type Keyshot struct {
	ImageURL        string `json:"imageUrl"`
	Message         string `json:"message"`
	ObjectCategory  string `json:"objectCategory"`
	SubCategoryName string `json:"subCategoryName"`
}

// Event is a single motion/detection event as returned by the VicoHome
// library API. It is an ephemeral transfer object; TraceID is the sole
// deduplication key. The vendor payload is loosely populated, absent
// fields decode to zero values.
type Event struct {
	TraceID       string            `json:"traceId"`
	Timestamp     float64           `json:"timestamp"`
	DeviceName    string            `json:"deviceName"`
	SerialNumber  string            `json:"serialNumber"`
	Period        float64           `json:"period"`
	ImageURL      string            `json:"imageUrl"`
	VideoURL      string            `json:"videoUrl"`
	Subcategories []SubcategoryInfo `json:"subcategoryInfoList"`
	Keyshots      []Keyshot         `json:"keyshots"`
}

// BirdName returns the vendor's own bird identification, if any.
func (e *Event) BirdName() string {
	for i := range e.Subcategories {
		if e.Subcategories[i].ObjectType == "bird" && e.Subcategories[i].ObjectName != "" {
			return e.Subcategories[i].ObjectName
		}
	}
	return ""
}

// BirdLatin returns the scientific name of the vendor's bird identification.
func (e *Event) BirdLatin() string {
	for i := range e.Subcategories {
		if e.Subcategories[i].ObjectType == "bird" && e.Subcategories[i].BirdStdName != "" {
			return e.Subcategories[i].BirdStdName
		}
	}
	return ""
}

// BirdConfidence returns the confidence of the vendor's bird identification.
func (e *Event) BirdConfidence() float64 {
	for i := range e.Subcategories {
		if e.Subcategories[i].ObjectType == "bird" {
			return e.Subcategories[i].Confidence
		}
	}
	return 0
}

// KeyshotURL returns the best available still image URL for the event.
func (e *Event) KeyshotURL() string {
	if len(e.Keyshots) > 0 && e.Keyshots[0].ImageURL != "" {
		return e.Keyshots[0].ImageURL
	}
	return e.ImageURL
}
