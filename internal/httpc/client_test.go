package httpc

import (
	"testing"
	"time"
)

func TestClients(t *testing.T) {
	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"shared", Client.Timeout, DefaultTimeout},
		{"download", Download.Timeout, DownloadTimeout},
		{"custom", NewClient(time.Second).Timeout, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("timeout = %v, want %v", tt.got, tt.want)
			}
		})
	}
}
