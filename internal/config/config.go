// Package config binds process configuration from the environment. It is
// used only at the command edge; library packages take explicit config
// structs through their constructors.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/avsafe-data/avsafe.report/internal/audio"
	"github.com/avsafe-data/avsafe.report/internal/integrity"
	"github.com/avsafe-data/avsafe.report/internal/light"
)

// Config is the full process configuration.
type Config struct {
	// StrictCrypto refuses demo signatures on both the signing and the
	// verifying side.
	StrictCrypto bool `env:"AVSAFE_STRICT_CRYPTO"`
	// SigningSeedHex is an optional fixed ed25519 seed (64 hex chars).
	// Empty generates a fresh keypair per run.
	SigningSeedHex string `env:"AVSAFE_PRIV_HEX"`

	DBPath string `env:"AVSAFE_DB" envDefault:"avsafe.db"`
	Listen string `env:"AVSAFE_LISTEN" envDefault:":8799"`

	MQTTBroker string `env:"AVSAFE_MQTT_BROKER" envDefault:"tcp://localhost:1883"`
	MQTTTopic  string `env:"AVSAFE_MQTT_TOPIC" envDefault:"avsafe/+/minutes"`

	SerialPort string `env:"AVSAFE_SERIAL_PORT"`
	SerialBaud int    `env:"AVSAFE_SERIAL_BAUD" envDefault:"115200"`

	SilenceFloorDB      float64 `env:"AVSAFE_SILENCE_FLOOR_DB" envDefault:"-80"`
	FlickerMaxHz        float64 `env:"AVSAFE_FLICKER_MAX_HZ" envDefault:"1000"`
	FlickerSignificance float64 `env:"AVSAFE_FLICKER_SIGNIFICANCE" envDefault:"8"`

	ProfilePath string `env:"AVSAFE_PROFILE"`
	Locale      string `env:"AVSAFE_LOCALE" envDefault:"default"`
	DeviceID    string `env:"AVSAFE_DEVICE_ID"`
}

// Load reads an optional .env file and then the environment. A missing .env
// is not an error; explicit environment variables win over file entries.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// SignerConfig maps the crypto settings onto the integrity package.
func (c Config) SignerConfig() integrity.SignerConfig {
	return integrity.SignerConfig{
		Strict:  c.StrictCrypto,
		SeedHex: c.SigningSeedHex,
	}
}

// AudioConfig maps the extraction settings onto the audio package.
func (c Config) AudioConfig() audio.Config {
	return audio.Config{SilenceFloorDB: c.SilenceFloorDB}
}

// LightConfig maps the extraction settings onto the light package.
func (c Config) LightConfig() light.Config {
	return light.Config{
		MaxFreqHz:         c.FlickerMaxHz,
		SignificanceRatio: c.FlickerSignificance,
	}
}
