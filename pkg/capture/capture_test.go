package capture

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("DefaultConfig: got %dx%d, want 640x480", cfg.Width, cfg.Height)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("DefaultConfig should validate, got %v", errs)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"negative device", func(c *Config) { c.Device = -1 }, true},
		{"tiny width", func(c *Config) { c.Width = 10 }, true},
		{"huge height", func(c *Config) { c.Height = 99999 }, true},
		{"zero framerate", func(c *Config) { c.Framerate = 0 }, true},
		{"quality over 100", func(c *Config) { c.Quality = 101 }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			errs := cfg.Validate()
			if (len(errs) > 0) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", errs, tc.wantErr)
			}
		})
	}
}

func TestPresets(t *testing.T) {
	for name, cfg := range Presets() {
		if errs := cfg.Validate(); len(errs) != 0 {
			t.Errorf("preset %s invalid: %v", name, errs)
		}
	}
	if GetPreset("nope") != nil {
		t.Error("GetPreset should return nil for unknown preset")
	}
}

func TestMockRequiresEnable(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	if _, err := m.Next(ctx); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("Next before Enable: got %v, want ErrNotEnabled", err)
	}

	if err := m.Enable(ctx); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !m.Enabled() {
		t.Fatal("Enabled should be true after Enable")
	}

	f1, err := m.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	f2, _ := m.Next(ctx)
	if f2.Seq != f1.Seq+1 {
		t.Errorf("Seq not monotonic: %d then %d", f1.Seq, f2.Seq)
	}

	if _, err := jpeg.Decode(bytes.NewReader(f1.JPEG)); err != nil {
		t.Errorf("synthetic frame is not a JPEG: %v", err)
	}
}

func TestMockEnableError(t *testing.T) {
	m := NewMock()
	m.EnableErr = ErrPermissionDenied

	err := m.Enable(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Enable: got %v, want ErrPermissionDenied", err)
	}
	if m.Enabled() {
		t.Error("source should stay disabled after a failed Enable")
	}
}

func TestMockClose(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	m.Enable(ctx)
	m.Close()

	if _, err := m.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Next after Close: got %v, want ErrClosed", err)
	}
	if err := m.Enable(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Enable after Close: got %v, want ErrClosed", err)
	}
}

func TestMockRotatesFrames(t *testing.T) {
	m := NewMock()
	m.Frames = [][]byte{[]byte("a"), []byte("b")}
	ctx := context.Background()
	m.Enable(ctx)

	want := []string{"a", "b", "a"}
	for i, w := range want {
		f, err := m.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if string(f.JPEG) != w {
			t.Errorf("frame %d = %q, want %q", i, f.JPEG, w)
		}
	}
}
