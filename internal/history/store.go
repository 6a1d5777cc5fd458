// Package history persists completed runs: a directory per run holding
// metadata.json and the per-iteration history.csv, read back by the
// list, plot, and export commands.
package history

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"tandem/internal/coupling"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunMetadata echoes the run configuration alongside its outcome.
type RunMetadata struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Power        float64   `json:"power"`
	MaxTimesteps int       `json:"max_timesteps"`
	MaxPicard    int       `json:"max_picard_iter"`
	Tolerance    float64   `json:"tolerance"`
	Norm         string    `json:"norm"`
	Boron        bool      `json:"boron"`
	Ranks        int       `json:"ranks"`
	Elapsed      float64   `json:"elapsed_seconds"`

	Converged  bool    `json:"converged"`
	Iterations int     `json:"iterations"`
	FinalNorm  float64 `json:"final_norm"`
	FinalKeff  float64 `json:"final_keff"`
	BoronPPM   float64 `json:"boron_ppm"`
}

var historyHeader = []string{"timestep", "picard", "norm", "keff", "boron_ppm", "converged"}

// Save writes one run under a fresh uuid and returns its ID. Call it on
// one rank only.
func (s *Store) Save(meta RunMetadata, result *coupling.Result) (string, error) {
	runID := uuid.NewString()
	runDir := filepath.Join(s.baseDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta.ID = runID
	meta.Timestamp = time.Now()
	meta.Converged = result.Converged
	for _, ts := range result.Timesteps {
		meta.Iterations += ts.Iterations
	}
	if n := len(result.Timesteps); n > 0 {
		last := result.Timesteps[n-1]
		meta.FinalNorm = last.FinalNorm
		meta.FinalKeff = last.Keff
		meta.BoronPPM = last.BoronPPM
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "history.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if err := w.Write(historyHeader); err != nil {
		return "", err
	}
	for _, ev := range result.Events {
		row := []string{
			strconv.Itoa(ev.Timestep),
			strconv.Itoa(ev.Picard),
			strconv.FormatFloat(ev.Norm, 'g', 10, 64),
			strconv.FormatFloat(ev.Keff, 'f', 6, 64),
			strconv.FormatFloat(ev.BoronPPM, 'f', 2, 64),
			strconv.FormatBool(ev.Converged),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	return runID, nil
}

// List returns every readable run's metadata, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		runs = append(runs, meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadHistory reads a run's per-iteration records back.
func (s *Store) LoadHistory(runID string) ([]coupling.IterationEvent, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "history.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("history for run %s is empty", runID)
	}

	events := make([]coupling.IterationEvent, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < len(historyHeader) {
			continue
		}
		var ev coupling.IterationEvent
		if ev.Timestep, err = strconv.Atoi(record[0]); err != nil {
			continue
		}
		if ev.Picard, err = strconv.Atoi(record[1]); err != nil {
			continue
		}
		if ev.Norm, err = strconv.ParseFloat(record[2], 64); err != nil {
			continue
		}
		if ev.Keff, err = strconv.ParseFloat(record[3], 64); err != nil {
			continue
		}
		if ev.BoronPPM, err = strconv.ParseFloat(record[4], 64); err != nil {
			continue
		}
		ev.Converged, _ = strconv.ParseBool(record[5])
		events = append(events, ev)
	}
	return events, nil
}
