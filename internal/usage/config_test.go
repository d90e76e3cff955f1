package usage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/keihi/internal/model"
)

func TestDefaultLimits_ReceiptScan(t *testing.T) {
	limits, err := DefaultLimits()
	if err != nil {
		t.Fatalf("DefaultLimits error: %v", err)
	}

	cfg, err := limits.Action(model.ActionReceiptScan)
	if err != nil {
		t.Fatalf("Action error: %v", err)
	}
	if cfg.Action != model.ActionReceiptScan {
		t.Errorf("Action = %q, want %q", cfg.Action, model.ActionReceiptScan)
	}
	want := []Window{
		{Name: "perMinute", Seconds: 60, Limit: 10},
		{Name: "perHour", Seconds: 3600, Limit: 60},
		{Name: "perDay", Seconds: 86400, Limit: 100},
		{Name: "perMonth", Seconds: 2592000, Limit: 200},
	}
	if !reflect.DeepEqual(cfg.Windows, want) {
		t.Errorf("Windows = %+v, want %+v", cfg.Windows, want)
	}
	if !reflect.DeepEqual(cfg.AlertOn, []string{"perDay", "perMonth"}) {
		t.Errorf("AlertOn = %v", cfg.AlertOn)
	}
	if got := limits.LongestWindow(); got != 30*24*time.Hour {
		t.Errorf("LongestWindow = %v, want 720h", got)
	}
}

func TestParseLimits_SortsWindowsAscending(t *testing.T) {
	data := []byte(`
actions:
  export:
    windows:
      - {name: daily, seconds: 86400, limit: 5}
      - {name: burst, seconds: 10, limit: 1}
`)
	limits, err := ParseLimits(data)
	if err != nil {
		t.Fatalf("ParseLimits error: %v", err)
	}
	cfg, _ := limits.Action("export")
	if cfg.Windows[0].Name != "burst" || cfg.Windows[1].Name != "daily" {
		t.Errorf("Windows = %+v, want burst first", cfg.Windows)
	}
	if !reflect.DeepEqual(limits.Actions(), []string{"export"}) {
		t.Errorf("Actions = %v", limits.Actions())
	}
}

func TestParseLimits_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", ``, "failed to parse"},
		{"no actions", `actions: {}`, "no actions configured"},
		{"unknown field", "actions:\n  a:\n    windows: [{name: w, seconds: 1, limit: 1}]\n    burst: 3\n", "failed to parse"},
		{"no windows", "actions:\n  a:\n    windows: []\n", "has no windows"},
		{"unnamed window", "actions:\n  a:\n    windows: [{seconds: 1, limit: 1}]\n", "without name"},
		{"duplicate window", "actions:\n  a:\n    windows: [{name: w, seconds: 1, limit: 1}, {name: w, seconds: 2, limit: 1}]\n", "duplicate window"},
		{"zero seconds", "actions:\n  a:\n    windows: [{name: w, seconds: 0, limit: 1}]\n", "positive seconds"},
		{"negative limit", "actions:\n  a:\n    windows: [{name: w, seconds: 1, limit: -1}]\n", "negative limit"},
		{"unknown alertOn", "actions:\n  a:\n    windows: [{name: w, seconds: 1, limit: 1}]\n    alertOn: [x]\n", "unknown window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLimits([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %q, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadLimits_EmptyPathUsesDefault(t *testing.T) {
	limits, err := LoadLimits("")
	if err != nil {
		t.Fatalf("LoadLimits error: %v", err)
	}
	if _, err := limits.Action(model.ActionReceiptScan); err != nil {
		t.Errorf("default limits missing receipt_scan: %v", err)
	}
}

func TestLoadLimits_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	data := "actions:\n  receipt_scan:\n    windows: [{name: perMinute, seconds: 60, limit: 3}]\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	limits, err := LoadLimits(path)
	if err != nil {
		t.Fatalf("LoadLimits error: %v", err)
	}
	cfg, _ := limits.Action(model.ActionReceiptScan)
	if len(cfg.Windows) != 1 || cfg.Windows[0].Limit != 3 {
		t.Errorf("Windows = %+v", cfg.Windows)
	}
}

func TestLoadLimits_MissingFile(t *testing.T) {
	if _, err := LoadLimits(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLimits_UnknownAction(t *testing.T) {
	limits, _ := DefaultLimits()
	if _, err := limits.Action("mileage_export"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v, want ErrUnknownAction", err)
	}
}
