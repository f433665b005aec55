package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerName is the metadata file written into every extracted build
// directory. Its presence distinguishes committed build output from
// temporary staging, so the reaper's committed-check is a single file
// read instead of a recursive tree probe.
const MarkerName = ".build.json"

// Marker records what a build directory contains.
type Marker struct {
	Category    string    `json:"category"`
	Project     string    `json:"project"` // slug form
	Build       string    `json:"build"`   // slug form
	Executable  string    `json:"executable"` // relative to storage root, slash form
	ExtractedAt time.Time `json:"extractedAt"`
}

// WriteMarker writes the marker file into dir.
func WriteMarker(dir string, m Marker) error {
	if m.ExtractedAt.IsZero() {
		m.ExtractedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal marker: %w", err)
	}
	path := filepath.Join(dir, MarkerName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("archive: write marker %s: %w", path, err)
	}
	return nil
}

// ReadMarker reads the marker from dir. The boolean is false when dir
// carries no marker.
func ReadMarker(dir string) (Marker, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerName))
	if os.IsNotExist(err) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, fmt.Errorf("archive: read marker in %s: %w", dir, err)
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, false, fmt.Errorf("archive: parse marker in %s: %w", dir, err)
	}
	return m, true, nil
}
