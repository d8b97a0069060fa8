package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewTo(t *testing.T) {
	tests := []struct {
		mode      string
		wantDebug bool
		wantJSON  bool
	}{
		{"dev", true, false},
		{"prod", false, true},
		{"PRODUCTION", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.log")
			log, err := NewTo(tt.mode, path)
			if err != nil {
				t.Fatalf("NewTo: %v", err)
			}
			log.With("survey_id", "pets").Debug("debug line", "n", 1)
			log.Info("info line")
			log.Sync()

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			out := string(data)
			if got := strings.Contains(out, "debug line"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v:\n%s", got, tt.wantDebug, out)
			}
			if !strings.Contains(out, "info line") {
				t.Errorf("info line missing:\n%s", out)
			}
			if got := strings.HasPrefix(out, "{"); got != tt.wantJSON {
				t.Errorf("json output = %v, want %v:\n%s", got, tt.wantJSON, out)
			}
		})
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("discarded")
	l.With("k", "v").Error("discarded")
	l.Sync()
}
