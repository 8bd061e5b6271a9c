package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"go.viam.com/test"
)

func validConfig() *Config {
	return &Config{Machine: MachineConfig{Host: "machine.local", APIKey: "key", APIKeyID: "id"}}
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.Machine.CameraName, test.ShouldEqual, "cam")
	test.That(t, cfg.Machine.HouseholdDetector, test.ShouldEqual, "myPeopleDetector")
	test.That(t, cfg.Machine.CustomDetector, test.ShouldEqual, "scavengerCustomDetector")
	test.That(t, cfg.Detection.PollInterval, test.ShouldEqual, 2*time.Second)
	test.That(t, *cfg.Detection.Threshold, test.ShouldEqual, 0.3)
	test.That(t, cfg.Game.Duration, test.ShouldEqual, 300*time.Second)
	test.That(t, cfg.Web.ListenAddress, test.ShouldEqual, DefaultListenAddress)
	test.That(t, cfg.Log.MaxSizeMB, test.ShouldEqual, 100)
}

func TestValidateErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing key id", func(c *Config) { c.Machine.APIKeyID = "" }, "api_key_id"},
		{"missing key", func(c *Config) { c.Machine.APIKey = "" }, "api_key"},
		{"same detectors", func(c *Config) {
			c.Machine.HouseholdDetector = "d"
			c.Machine.CustomDetector = "d"
		}, "must differ"},
		{"negative poll", func(c *Config) { c.Detection.PollInterval = -time.Second }, "detection"},
		{"threshold", func(c *Config) { c.Detection.Threshold = lo.ToPtr(1.5) }, "confidence_threshold"},
		{"short game", func(c *Config) { c.Game.Duration = time.Millisecond }, "game"},
		{"listen address", func(c *Config) { c.Web.ListenAddress = "nope" }, "listen_address"},
		{"max entries", func(c *Config) { c.Gallery.MaxEntries = -1 }, "gallery"},
		{"part id", func(c *Config) { c.Training.Enabled = true }, "part_id"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.want)
		})
	}
}

func TestZeroThresholdIsKept(t *testing.T) {
	cfg, err := FromReader(strings.NewReader("detection:\n  confidence_threshold: 0\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.Detection.Threshold, test.ShouldNotBeNil)
	test.That(t, *cfg.Detection.Threshold, test.ShouldEqual, 0.0)

	cfg, err = FromReader(strings.NewReader("detection:\n  confidence_threshold: -0.1\n"))
	test.That(t, err, test.ShouldBeNil)
	err = cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "confidence_threshold")
}

func TestValidateWithoutCredentials(t *testing.T) {
	cfg := &Config{}
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	err := cfg.Machine.Credentials().Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "host")
}

func TestFromReader(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`
machine:
  host: robot.viam.cloud
  api_key: secret
  api_key_id: abc
  camera: webcam
detection:
  poll_interval: 500ms
  confidence_threshold: 0.5
game:
  duration: 1m
gallery:
  db_path: /tmp/gallery.db
  max_entries: 10
training:
  enabled: true
  part_id: part
  tags: [scavenger, kitchen]
`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.Machine.CameraName, test.ShouldEqual, "webcam")
	test.That(t, cfg.Detection.PollInterval, test.ShouldEqual, 500*time.Millisecond)
	test.That(t, *cfg.Detection.Threshold, test.ShouldEqual, 0.5)
	test.That(t, cfg.Game.Duration, test.ShouldEqual, time.Minute)
	test.That(t, cfg.Gallery.MaxEntries, test.ShouldEqual, 10)
	test.That(t, cfg.Training.Tags, test.ShouldResemble, []string{"scavenger", "kitchen"})

	// JSON is accepted too
	cfg, err = FromReader(strings.NewReader(`{"machine": {"host": "h", "api_key": "k", "api_key_id": "i"}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Machine.Host, test.ShouldEqual, "h")

	_, err = FromReader(strings.NewReader("machine:\n  hots: typo\n"))
	test.That(t, err, test.ShouldNotBeNil)

	cfg, err = FromReader(strings.NewReader(""))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Machine.Host, test.ShouldBeEmpty)
}

func TestReadSubstitutesAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scavenger.yaml")
	test.That(t, os.WriteFile(path, []byte("machine:\n  host: ${SCAVENGER_TEST_HOST}\n  api_key_id: from-file\n"), 0o600), test.ShouldBeNil)

	t.Setenv("SCAVENGER_TEST_HOST", "substituted.local")
	t.Setenv(EnvAPIKeyID, "")
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvAddress, "")
	t.Setenv(EnvPartID, "")

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Machine.Host, test.ShouldEqual, "substituted.local")
	test.That(t, cfg.Machine.APIKeyID, test.ShouldEqual, "from-file")
	test.That(t, cfg.Machine.APIKey, test.ShouldEqual, "from-env")

	t.Setenv(EnvAddress, "override.local")
	cfg, err = Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Machine.Host, test.ShouldEqual, "override.local")

	_, err = Read(filepath.Join(dir, "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	test.That(t, os.WriteFile(path, []byte("VIAM_API_KEY_ID=dotenv-id\n"), 0o600), test.ShouldBeNil)
	t.Setenv(EnvAPIKeyID, "")
	os.Unsetenv(EnvAPIKeyID)

	test.That(t, LoadDotEnv(filepath.Join(dir, "absent.env"), path), test.ShouldBeNil)
	cfg, err := Read("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Machine.APIKeyID, test.ShouldEqual, "dotenv-id")
}

func TestMachineString(t *testing.T) {
	s := validConfig().Machine.String()
	test.That(t, s, test.ShouldNotContainSubstring, "api_key=key")
	test.That(t, s, test.ShouldContainSubstring, "api_key=****")
}
