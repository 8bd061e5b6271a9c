// Package config defines the configuration of the scavenger hunt server.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"github.com/viamrobotics/scavenger-hunt/connection"
	"github.com/viamrobotics/scavenger-hunt/detection"
	"github.com/viamrobotics/scavenger-hunt/game"
	"github.com/viamrobotics/scavenger-hunt/poller"
)

// DefaultListenAddress is where the web page is served when none is configured.
const DefaultListenAddress = "localhost:8080"

// Config is the whole server configuration.
type Config struct {
	Machine   MachineConfig   `yaml:"machine" json:"machine"`
	Detection DetectionConfig `yaml:"detection" json:"detection"`
	Game      GameConfig      `yaml:"game" json:"game"`
	Catalog   CatalogConfig   `yaml:"catalog" json:"catalog"`
	Web       WebConfig       `yaml:"web" json:"web"`
	Gallery   GalleryConfig   `yaml:"gallery" json:"gallery"`
	Training  TrainingConfig  `yaml:"training" json:"training"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// MachineConfig says which machine to connect to and which of its resources to use.
type MachineConfig struct {
	Host              string `yaml:"host" json:"host"`
	APIKey            string `yaml:"api_key" json:"api_key"`
	APIKeyID          string `yaml:"api_key_id" json:"api_key_id"`
	SignalingAddress  string `yaml:"signaling_address" json:"signaling_address"`
	CameraName        string `yaml:"camera" json:"camera"`
	HouseholdDetector string `yaml:"household_detector" json:"household_detector"`
	CustomDetector    string `yaml:"custom_detector" json:"custom_detector"`
}

// Validate fills in the default resource names. Missing credentials are not an error
// here: the server still starts and reports the failed connection on its page.
func (c *MachineConfig) Validate(path string) error {
	if c.Host != "" && (c.APIKeyID == "") != (c.APIKey == "") {
		if c.APIKeyID == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "api_key_id")
		}
		return utils.NewConfigValidationFieldRequiredError(path, "api_key")
	}
	if c.CameraName == "" {
		c.CameraName = connection.DefaultCameraName
	}
	if c.HouseholdDetector == "" {
		c.HouseholdDetector = connection.DefaultHouseholdDetector
	}
	if c.CustomDetector == "" {
		c.CustomDetector = connection.DefaultCustomDetector
	}
	if c.HouseholdDetector == c.CustomDetector {
		return utils.NewConfigValidationError(path,
			errors.Errorf("household_detector and custom_detector must differ, both are %q", c.CustomDetector))
	}
	return nil
}

// Credentials returns the connection credentials.
func (c MachineConfig) Credentials() connection.Credentials {
	return connection.Credentials{
		Host:             c.Host,
		APIKeyID:         c.APIKeyID,
		APIKey:           c.APIKey,
		SignalingAddress: c.SignalingAddress,
	}
}

// DetectionConfig tunes polling and matching.
type DetectionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// Threshold is nil when unset; zero is a valid threshold.
	Threshold *float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
}

// Validate ensures all parts of the config are valid.
func (c *DetectionConfig) Validate(path string) error {
	if c.PollInterval == 0 {
		c.PollInterval = poller.DefaultInterval
	}
	if c.PollInterval < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.Threshold == nil {
		c.Threshold = lo.ToPtr(detection.DefaultConfidenceThreshold)
	}
	if *c.Threshold < 0 || *c.Threshold >= 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("confidence_threshold must be in [0, 1), got %v", *c.Threshold))
	}
	return nil
}

// GameConfig tunes a game.
type GameConfig struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
}

// Validate ensures all parts of the config are valid.
func (c *GameConfig) Validate(path string) error {
	if c.Duration == 0 {
		c.Duration = game.DefaultDuration
	}
	if c.Duration < time.Second {
		return utils.NewConfigValidationError(path, errors.Errorf("duration must be at least 1s, got %s", c.Duration))
	}
	return nil
}

// CatalogConfig points at replacement object lists. Empty paths use the bundled lists.
type CatalogConfig struct {
	HouseholdPath string `yaml:"household_objects" json:"household_objects"`
	CustomPath    string `yaml:"custom_objects" json:"custom_objects"`
}

// WebConfig configures the HTTP server.
type WebConfig struct {
	ListenAddress  string   `yaml:"listen_address" json:"listen_address"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// Validate ensures all parts of the config are valid.
func (c *WebConfig) Validate(path string) error {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return utils.NewConfigValidationError(path, errors.Wrap(err, "error validating listen_address"))
	}
	return nil
}

// GalleryConfig enables persistence of found objects.
type GalleryConfig struct {
	// DBPath is a SQLite database file; empty keeps the gallery in memory.
	DBPath     string `yaml:"db_path" json:"db_path"`
	MaxEntries int    `yaml:"max_entries" json:"max_entries"`
}

// Validate ensures all parts of the config are valid.
func (c *GalleryConfig) Validate(path string) error {
	if c.MaxEntries < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_entries must not be negative, got %d", c.MaxEntries))
	}
	return nil
}

// TrainingConfig enables uploading frames for training.
type TrainingConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	PartID  string   `yaml:"part_id" json:"part_id"`
	AppURL  string   `yaml:"app_url" json:"app_url"`
	Tags    []string `yaml:"tags" json:"tags"`
}

// Validate ensures all parts of the config are valid.
func (c *TrainingConfig) Validate(path string) error {
	if c.Enabled && c.PartID == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "part_id")
	}
	return nil
}

// LogConfig controls logging.
type LogConfig struct {
	Debug bool   `yaml:"debug" json:"debug"`
	File  string `yaml:"file" json:"file"`
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `yaml:"max_size_mb" json:"max_size_mb"`
}

// Validate fills in defaults and checks every section, returning errors qualified by
// the path of the offending field.
func (c *Config) Validate() error {
	validators := []struct {
		path string
		fn   func(string) error
	}{
		{"machine", c.Machine.Validate},
		{"detection", c.Detection.Validate},
		{"game", c.Game.Validate},
		{"web", c.Web.Validate},
		{"gallery", c.Gallery.Validate},
		{"training", c.Training.Validate},
	}
	for _, v := range validators {
		if err := v.fn(v.path); err != nil {
			return err
		}
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	return nil
}

// String hides the API key.
func (c MachineConfig) String() string {
	key := ""
	if c.APIKey != "" {
		key = "****"
	}
	return fmt.Sprintf("host=%s api_key_id=%s api_key=%s camera=%s", c.Host, c.APIKeyID, key, c.CameraName)
}
