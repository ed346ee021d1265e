package config

import (
	"fmt"
	"strings"
)

// CurrentVersion is the configuration layout this build reads natively.
// Load upgrades older layouts in memory before decoding.
//
//	1  initial layout
//	2  agent.max_retries, scheduler.max_failures and sessions.lock_ttl
//	   renamed to say what they bound
const CurrentVersion = 2

// keyMove relocates a dotted key.
type keyMove struct {
	from, to string
}

// upgrades[n] lifts a version n document to n+1.
var upgrades = map[int][]keyMove{
	1: {
		{from: "agent.max_retries", to: "agent.max_step_retries"},
		{from: "scheduler.max_failures", to: "scheduler.failure_threshold"},
		{from: "sessions.lock_ttl", to: "sessions.lease_ttl"},
	},
}

// VersionError reports a config version this build cannot read.
type VersionError struct {
	Version int
	Current int
}

func (e *VersionError) Error() string {
	if e.Version > e.Current {
		return fmt.Sprintf("config version %d is newer than this build (reads up to %d); upgrade foreman to use it", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is not a foreman layout (known: 1 to %d)", e.Version, e.Current)
}

// ValidateVersion accepts every layout from 1 to CurrentVersion.
func ValidateVersion(version int) error {
	if version < 1 || version > CurrentVersion {
		return &VersionError{Version: version, Current: CurrentVersion}
	}
	return nil
}

// UpgradeRaw rewrites a merged raw document from an older layout to
// CurrentVersion and returns one note per key it moved. Documents without a
// version, or with one it cannot read, are left for Validate to judge.
// When both the old and the new key are set, the new key wins.
func UpgradeRaw(raw map[string]any) []string {
	version, ok := rawVersion(raw["version"])
	if !ok || version < 1 || version >= CurrentVersion {
		return nil
	}
	var notes []string
	for v := version; v < CurrentVersion; v++ {
		for _, move := range upgrades[v] {
			switch moveKey(raw, move.from, move.to) {
			case moved:
				notes = append(notes, fmt.Sprintf("%s was renamed to %s", move.from, move.to))
			case shadowed:
				notes = append(notes, fmt.Sprintf("%s ignored, %s is set", move.from, move.to))
			}
		}
	}
	raw["version"] = CurrentVersion
	return notes
}

// rawVersion reads the version key as YAML (int) or JSON5 (float64) decodes it.
func rawVersion(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

type moveResult int

const (
	absent moveResult = iota
	moved
	shadowed
)

func moveKey(raw map[string]any, from, to string) moveResult {
	fromParent, fromKey := parentOf(raw, from, false)
	if fromParent == nil {
		return absent
	}
	value, ok := fromParent[fromKey]
	if !ok {
		return absent
	}
	delete(fromParent, fromKey)

	toParent, toKey := parentOf(raw, to, true)
	if toParent == nil {
		// Leave it for the strict decode to report.
		fromParent[fromKey] = value
		return absent
	}
	if _, exists := toParent[toKey]; exists {
		return shadowed
	}
	toParent[toKey] = value
	return moved
}

// parentOf returns the map holding the last segment of a dotted path.
func parentOf(raw map[string]any, path string, create bool) (map[string]any, string) {
	parts := strings.Split(path, ".")
	node := raw
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			if _, taken := node[part]; taken || !create {
				return nil, ""
			}
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}
	return node, parts[len(parts)-1]
}
