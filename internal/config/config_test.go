package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/teslashibe/go-teachable/pkg/capture"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "teachable.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	set, err := cfg.LabelSet()
	if err != nil {
		t.Fatalf("LabelSet: %v", err)
	}
	if got := set.Names(); len(got) != 2 || got[0] != "Class 1" || got[1] != "Class 2" {
		t.Errorf("default labels = %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"one label", func(c *Config) { c.Labels = c.Labels[:1] }, "labels"},
		{"gap in indices", func(c *Config) { c.Labels[1].Index = 5 }, "indices"},
		{"bad width", func(c *Config) { c.Capture.Width = 10 }, "capture: width"},
		{"no model", func(c *Config) { c.Model.Path = "" }, "model: path"},
		{"zero epochs", func(c *Config) { c.Training.Epochs = 0 }, "epochs"},
		{"zero batch", func(c *Config) { c.Training.BatchSize = 0 }, "batch_size"},
		{"bad port", func(c *Config) { c.Server.Port = "http" }, "port"},
		{"minio without bucket", func(c *Config) {
			c.Export.MinIO.Endpoint = "localhost:9000"
			c.Export.MinIO.Bucket = ""
		}, "bucket"},
		{"drive without secret", func(c *Config) { c.Export.Drive.ClientID = "id" }, "client_secret"},
		{"negative retention", func(c *Config) { c.History.MaxRuns = -1 }, "max_runs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() = %v, want *ConfigError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSimulateSkipsModelPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulate = true
	cfg.Model.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("simulate mode should not need a model: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
labels:
  - index: 1
    name: dog
  - index: 0
    name: cat
  - index: 2
    name: bird
training:
  epochs: 10
server:
  port: "9090"
export:
  minio:
    endpoint: localhost:9000
    bucket: models
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	set, err := cfg.LabelSet()
	if err != nil {
		t.Fatalf("LabelSet: %v", err)
	}
	if got := strings.Join(set.Names(), ","); got != "cat,dog,bird" {
		t.Errorf("labels = %s", got)
	}
	if cfg.Training.Epochs != 10 {
		t.Errorf("epochs = %d", cfg.Training.Epochs)
	}
	if cfg.Training.BatchSize != 5 {
		t.Errorf("batch size default lost: %d", cfg.Training.BatchSize)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %s", cfg.Server.Port)
	}
	if !cfg.Export.MinIOEnabled() || cfg.Export.MinIO.Bucket != "models" {
		t.Errorf("minio = %+v", cfg.Export.MinIO)
	}
	if cfg.Export.DriveEnabled() {
		t.Error("drive should be disabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("Load of a missing explicit file should fail")
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" || len(cfg.Labels) != 2 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := writeFile(t, "training:\n  epochs: -1\n")
	_, err := Load(path, nil)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Load = %v, want *ConfigError", err)
	}
}

func TestPrecedence(t *testing.T) {
	path := writeFile(t, "server:\n  port: \"9000\"\ncapture:\n  device: 1\n")

	t.Setenv("TEACH_SERVER_PORT", "9100")
	t.Setenv("TEACH_TRAINING_EPOCHS", "7")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("port", "8080", "")
	flags.Int("device", 0, "")
	flags.Bool("simulate", false, "")
	if err := flags.Parse([]string{"--port", "9200", "--simulate"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9200" {
		t.Errorf("port = %s, want flag value 9200", cfg.Server.Port)
	}
	if cfg.Capture.Device != 1 {
		t.Errorf("device = %d, want file value 1 (flag unset)", cfg.Capture.Device)
	}
	if cfg.Training.Epochs != 7 {
		t.Errorf("epochs = %d, want env value 7", cfg.Training.Epochs)
	}
	if !cfg.Simulate {
		t.Error("simulate flag not applied")
	}
}

func TestPreset(t *testing.T) {
	path := writeFile(t, "capture_preset: lowres\ncapture:\n  device: 2\n")
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := capture.LowResConfig()
	if cfg.Capture.Width != want.Width || cfg.Capture.Framerate != want.Framerate {
		t.Errorf("capture = %+v, want lowres %+v", cfg.Capture, want)
	}
	if cfg.Capture.Device != 2 {
		t.Errorf("device = %d, want 2 kept from the file", cfg.Capture.Device)
	}

	path = writeFile(t, "capture_preset: 8k\n")
	if _, err := Load(path, nil); err == nil {
		t.Error("unknown preset should fail")
	}
}

func TestFileFromEnv(t *testing.T) {
	t.Setenv("TEACH_CONFIG", "")
	if got := FileFromEnv("a.yaml"); got != "a.yaml" {
		t.Errorf("FileFromEnv = %s", got)
	}
	t.Setenv("TEACH_CONFIG", "/etc/teachable.yaml")
	if got := FileFromEnv("a.yaml"); got != "/etc/teachable.yaml" {
		t.Errorf("FileFromEnv = %s", got)
	}
}
