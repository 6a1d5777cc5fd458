package history

import (
	"encoding/json"
	"io"
	"os"

	"tandem/internal/coupling"
)

// ExportData is the flat JSON shape the export command emits, pairing
// the run's metadata with its full iteration history.
type ExportData struct {
	Meta      RunMetadata               `json:"meta"`
	Timesteps []coupling.TimestepResult `json:"timesteps,omitempty"`
	Events    []coupling.IterationEvent `json:"events"`
}

// ExportJSON writes a stored run as indented JSON to the given writer.
func (s *Store) ExportJSON(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	events, err := s.LoadHistory(runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ExportData{Meta: *meta, Events: events})
}

// ExportJSONFile writes a stored run to a file, or to stdout when path
// is "-".
func (s *Store) ExportJSONFile(path, runID string) error {
	if path == "-" {
		return s.ExportJSON(os.Stdout, runID)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return s.ExportJSON(file, runID)
}
