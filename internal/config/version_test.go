package config

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version int
		want    string
	}{
		{version: 1},
		{version: CurrentVersion},
		{version: 0, want: "not a foreman layout"},
		{version: -3, want: "not a foreman layout"},
		{version: CurrentVersion + 1, want: "newer than this build"},
	}
	for _, tt := range tests {
		err := ValidateVersion(tt.version)
		if tt.want == "" {
			if err != nil {
				t.Errorf("ValidateVersion(%d) = %v", tt.version, err)
			}
			continue
		}
		var ve *VersionError
		if !errors.As(err, &ve) || ve.Version != tt.version || ve.Current != CurrentVersion {
			t.Errorf("ValidateVersion(%d) = %#v, want VersionError", tt.version, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("ValidateVersion(%d) = %q, want it to mention %q", tt.version, err, tt.want)
		}
	}
}

func TestUpgradeRaw(t *testing.T) {
	tests := []struct {
		name      string
		raw       map[string]any
		want      map[string]any
		wantNotes []string
	}{
		{
			name: "renames version 1 keys",
			raw: map[string]any{
				"version":   1,
				"agent":     map[string]any{"max_retries": 1, "confidence_floor": 0.6},
				"scheduler": map[string]any{"max_failures": 5},
				"sessions":  map[string]any{"lock_ttl": "90s"},
			},
			want: map[string]any{
				"version":   CurrentVersion,
				"agent":     map[string]any{"max_step_retries": 1, "confidence_floor": 0.6},
				"scheduler": map[string]any{"failure_threshold": 5},
				"sessions":  map[string]any{"lease_ttl": "90s"},
			},
			wantNotes: []string{
				"agent.max_retries was renamed to agent.max_step_retries",
				"scheduler.max_failures was renamed to scheduler.failure_threshold",
				"sessions.lock_ttl was renamed to sessions.lease_ttl",
			},
		},
		{
			name: "new key wins",
			raw: map[string]any{
				"version":   float64(1),
				"scheduler": map[string]any{"max_failures": 5, "failure_threshold": 2},
			},
			want: map[string]any{
				"version":   CurrentVersion,
				"scheduler": map[string]any{"failure_threshold": 2},
			},
			wantNotes: []string{"scheduler.max_failures ignored, scheduler.failure_threshold is set"},
		},
		{
			name: "version 1 without legacy keys",
			raw:  map[string]any{"version": 1, "logging": map[string]any{"level": "debug"}},
			want: map[string]any{"version": CurrentVersion, "logging": map[string]any{"level": "debug"}},
		},
		{
			name: "current layout untouched",
			raw:  map[string]any{"version": CurrentVersion, "agent": map[string]any{"max_retries": 1}},
			want: map[string]any{"version": CurrentVersion, "agent": map[string]any{"max_retries": 1}},
		},
		{
			name: "missing version untouched",
			raw:  map[string]any{"sessions": map[string]any{"lock_ttl": "90s"}},
			want: map[string]any{"sessions": map[string]any{"lock_ttl": "90s"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notes := UpgradeRaw(tt.raw)
			if !reflect.DeepEqual(notes, tt.wantNotes) {
				t.Errorf("notes = %q, want %q", notes, tt.wantNotes)
			}
			if !reflect.DeepEqual(tt.raw, tt.want) {
				t.Errorf("raw = %#v, want %#v", tt.raw, tt.want)
			}
		})
	}
}

func TestLoadUpgradesVersion1(t *testing.T) {
	path := writeConfig(t, `
version: 1
scheduler:
  max_failures: 5
sessions:
  lock_ttl: 90s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.Scheduler.FailureThreshold != 5 || cfg.Sessions.LeaseTTL != 90*time.Second {
		t.Errorf("renamed keys not applied: scheduler %+v sessions %+v", cfg.Scheduler, cfg.Sessions)
	}
	if len(cfg.Notices) != 2 {
		t.Errorf("notices = %q, want two", cfg.Notices)
	}
}

func TestLoadRejectsLegacyKeysInCurrentLayout(t *testing.T) {
	path := writeConfig(t, `
version: 2
scheduler:
  max_failures: 5
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "max_failures") {
		t.Fatalf("Load() error = %v, want unknown field max_failures", err)
	}
}
