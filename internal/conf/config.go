// config.go: settings struct and functions to load and validate the
// FreeBird configuration from file, environment and defaults.
package conf

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// VicoHomeSettings contains credentials and endpoint selection for the
// VicoHome camera cloud API.
type VicoHomeSettings struct {
	Email    string // account email, required
	Password string // account password, required
	Region   string // "us" or "eu", selects the API base URL
	APIBase  string // explicit API base URL override, optional
}

// PollSettings controls the ingestion pipeline's polling loop.
type PollSettings struct {
	Interval       int // seconds between poll cycles
	Lookback       int // seconds of overlapping lookback window per cycle
	AlertThreshold int // seconds of sustained failure before a health alert
}

// BirdNETSettings contains settings for the acoustic classifier collaborator.
type BirdNETSettings struct {
	Endpoint  string  // analyzer HTTP endpoint, empty disables acoustic analysis
	Threshold float64 // minimum confidence to accept an acoustic detection
}

// VisionSettings contains settings for the image classifier collaborator.
type VisionSettings struct {
	Endpoint string // messages-style API endpoint, empty disables vision analysis
	APIKey   string // API key sent in the x-api-key header
	Model    string // model identifier
}

// NotifySettings configures push notification delivery.
type NotifySettings struct {
	URLs    []string // shoutrrr service URLs (e.g. telegram://token@telegram?chats=...)
	Timeout int      // send timeout in seconds
}

// SummarySettings controls the daily summary scheduler.
type SummarySettings struct {
	Enabled  bool
	Hour     int    // local hour of day to send the summary
	Minute   int    // local minute of day
	Timezone string // IANA timezone name, empty means local time
}

// MetricsSettings controls the optional Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool
	Listen  string // listen address, e.g. "0.0.0.0:8090"
}

// Settings is the root configuration for the application.
type Settings struct {
	Debug bool // true to enable debug logging

	DataDir string // root directory for database, media, auth cache, logs

	VicoHome VicoHomeSettings
	Poll     PollSettings
	BirdNET  BirdNETSettings
	Vision   VisionSettings
	Notify   NotifySettings
	Summary  SummarySettings
	Metrics  MetricsSettings
}

// DatabasePath returns the sqlite database location under the data directory.
func (s *Settings) DatabasePath() string {
	return filepath.Join(s.DataDir, "birds.db")
}

// MediaDir returns the per-event media artifact directory.
func (s *Settings) MediaDir() string {
	return filepath.Join(s.DataDir, "media")
}

// AuthCachePath returns the credential cache file location.
func (s *Settings) AuthCachePath() string {
	return filepath.Join(s.DataDir, "auth.json")
}

// LogDir returns the directory for per-service log files.
func (s *Settings) LogDir() string {
	return filepath.Join(s.DataDir, "logs")
}

// APIBase returns the effective VicoHome API base URL, honoring the explicit
// override before the region mapping.
func (s *Settings) APIBase() string {
	if s.VicoHome.APIBase != "" {
		return strings.TrimRight(s.VicoHome.APIBase, "/")
	}
	if base, ok := apiBases[strings.ToLower(s.VicoHome.Region)]; ok {
		return base
	}
	return apiBases["us"]
}

// CountryNo returns the region code the VicoHome API expects, derived from
// the effective API base URL.
func (s *Settings) CountryNo() string {
	base := s.APIBase()
	if strings.Contains(base, "-eu") || strings.Contains(base, "vicoo.tech") {
		return "EU"
	}
	return "US"
}

// apiBases maps region codes to VicoHome API base URLs.
var apiBases = map[string]string{
	"us": "https://api-us.vicohome.io",
	"eu": "https://api-eu.vicoo.tech",
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new
// Settings instance and stores it as the package singleton.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the
// configuration file. A missing config file is not an error; defaults and
// environment variables apply.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/freebird")
	viper.AddConfigPath("/etc/freebird")

	viper.SetEnvPrefix("freebird")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// ValidateSettings checks invariants the rest of the application relies on.
func ValidateSettings(settings *Settings) error {
	if settings.VicoHome.Email == "" || settings.VicoHome.Password == "" {
		return fmt.Errorf("vicohome email and password are required")
	}
	if settings.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %d", settings.Poll.Interval)
	}
	if settings.Poll.Lookback < settings.Poll.Interval {
		return fmt.Errorf("poll lookback (%ds) must not be shorter than the poll interval (%ds)",
			settings.Poll.Lookback, settings.Poll.Interval)
	}
	if settings.BirdNET.Threshold < 0 || settings.BirdNET.Threshold > 1 {
		return fmt.Errorf("birdnet threshold must be within [0,1], got %f", settings.BirdNET.Threshold)
	}
	return nil
}

// GetSettings returns the current settings instance, or nil before Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SetSettings replaces the settings singleton, mainly for testing.
func SetSettings(settings *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = settings
}
