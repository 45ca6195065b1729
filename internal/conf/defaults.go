// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("datadir", "data")

	viper.SetDefault("vicohome.email", "")
	viper.SetDefault("vicohome.password", "")
	viper.SetDefault("vicohome.region", "us")
	viper.SetDefault("vicohome.apibase", "")

	viper.SetDefault("poll.interval", 15)
	viper.SetDefault("poll.lookback", 3600)
	viper.SetDefault("poll.alertthreshold", 300)

	viper.SetDefault("birdnet.endpoint", "")
	viper.SetDefault("birdnet.threshold", 0.5)

	viper.SetDefault("vision.endpoint", "")
	viper.SetDefault("vision.apikey", "")
	viper.SetDefault("vision.model", "claude-sonnet-4-5")

	viper.SetDefault("notify.urls", []string{})
	viper.SetDefault("notify.timeout", 15)

	viper.SetDefault("summary.enabled", true)
	viper.SetDefault("summary.hour", 18)
	viper.SetDefault("summary.minute", 0)
	viper.SetDefault("summary.timezone", "")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "localhost:8090")
}
