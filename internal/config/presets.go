package config

import (
	"sort"

	"tandem/internal/coupled"
)

// Presets are ready-made run configurations; `tandem run --preset` and
// `tandem config --preset` start from one instead of the defaults.
var Presets = map[string]func() *Config{
	// debug: single rank carrying both physics, one quick time step.
	"debug": func() *Config {
		cfg := DefaultConfig()
		cfg.MaxTimesteps = 1
		cfg.MaxPicard = 10
		cfg.Boron.Enabled = false
		cfg.Verbose = true
		return cfg
	},
	// baseline: the defaults with the criticality search on.
	"baseline": DefaultConfig,
	// transient: a longer run with adaptive relaxation on every field.
	"transient": func() *Config {
		cfg := DefaultConfig()
		cfg.MaxTimesteps = 5
		cfg.MaxPicard = 40
		cfg.Relaxation.HeatSource = coupled.RobbinsMonro
		cfg.Relaxation.Temperature = coupled.RobbinsMonro
		cfg.Relaxation.Density = coupled.RobbinsMonro
		return cfg
	},
	// parallel: neutronics on rank 0, the channel spread over ranks 1-3.
	"parallel": func() *Config {
		cfg := DefaultConfig()
		cfg.Ranks.Neutronics = []int{0}
		cfg.Ranks.Heat = []int{1, 2, 3}
		cfg.Core.Slabs = 12
		return cfg
	},
}

func GetPreset(name string) *Config {
	mk, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := mk()
	cfg.normalize()
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
