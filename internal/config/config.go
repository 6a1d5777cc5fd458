package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tandem/internal/coupled"
	"tandem/internal/coupling"
	"tandem/internal/surrogate"
)

const (
	DefaultPower        = 15.0e6
	DefaultMaxTimesteps = 3
	DefaultMaxPicard    = 20
	DefaultTolerance    = 1.0e-3
	DefaultNorm         = "linf"
	DefaultRelaxation   = 0.7
)

type Config struct {
	Power        float64          `yaml:"power"`
	MaxTimesteps int              `yaml:"max_timesteps"`
	MaxPicard    int              `yaml:"max_picard_iter"`
	Tolerance    float64          `yaml:"tolerance"`
	Norm         string           `yaml:"norm"`
	Relaxation   RelaxationConfig `yaml:"relaxation"`
	Initial      InitialConfig    `yaml:"initial"`
	Boron        BoronConfig      `yaml:"boron"`
	Ranks        RanksConfig      `yaml:"ranks"`
	Core         CoreConfig       `yaml:"core"`
	Verbose      bool             `yaml:"verbose"`
}

// RelaxationConfig holds the per-field under-relaxation factors: a
// constant in (0,1] or -1 for the Robbins-Monro 1/(n+1) schedule.
// Temperature and density default to the heat-source factor when zero.
type RelaxationConfig struct {
	HeatSource  float64 `yaml:"heat_source"`
	Temperature float64 `yaml:"temperature"`
	Density     float64 `yaml:"density"`
}

type InitialConfig struct {
	Temperature string `yaml:"temperature"`
	Density     string `yaml:"density"`
}

type BoronConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Tolerance  float64 `yaml:"tolerance"`
	TargetKeff float64 `yaml:"target_keff"`
	InitialPPM float64 `yaml:"initial_ppm"`
}

// RanksConfig assigns world ranks to the two physics groups. Groups may
// overlap; every world rank must appear in at least one.
type RanksConfig struct {
	Neutronics []int `yaml:"neutronics"`
	Heat       []int `yaml:"heat"`
}

// CoreConfig parametrizes the built-in surrogate core model.
type CoreConfig struct {
	Slabs        int     `yaml:"slabs"`
	Height       float64 `yaml:"height"`
	Area         float64 `yaml:"area"`
	FuelFraction float64 `yaml:"fuel_fraction"`
	InletTemp    float64 `yaml:"inlet_temp"`
	MassFlow     float64 `yaml:"mass_flow"`
	HeatCapacity float64 `yaml:"heat_capacity"`
}

// DefaultConfig returns the ready-to-run default document: factor
// inheritance already applied, so it passes Validate as-is.
func DefaultConfig() *Config {
	cfg := defaults()
	cfg.normalize()
	return cfg
}

// defaults is the baseline before factor inheritance. Load layers a
// yaml document over it, so the temperature and density factors must
// stay zero here for an omitted key to inherit heat_source.
func defaults() *Config {
	core := surrogate.DefaultCoreParams()
	return &Config{
		Power:        DefaultPower,
		MaxTimesteps: DefaultMaxTimesteps,
		MaxPicard:    DefaultMaxPicard,
		Tolerance:    DefaultTolerance,
		Norm:         DefaultNorm,
		Relaxation: RelaxationConfig{
			HeatSource: DefaultRelaxation,
		},
		Initial: InitialConfig{
			Temperature: "neutronics",
			Density:     "neutronics",
		},
		Boron: BoronConfig{
			Enabled:    true,
			Tolerance:  1.0e-3,
			TargetKeff: 1.0,
		},
		Ranks: RanksConfig{
			Neutronics: []int{0},
			Heat:       []int{0},
		},
		Core: CoreConfig{
			Slabs:        core.Slabs,
			Height:       core.Height,
			Area:         core.Area,
			FuelFraction: core.FuelFraction,
			InletTemp:    core.InletTemp,
			MassFlow:     core.MassFlow,
			HeatCapacity: core.HeatCapacity,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", coupled.ErrConfiguration, path, err)
	}
	cfg.normalize()
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := Dump(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Dump renders the configuration as a yaml document.
func Dump(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// normalize fills the inherited relaxation factors: temperature and
// density follow heat_source when omitted.
func (c *Config) normalize() {
	if c.Relaxation.Temperature == 0 {
		c.Relaxation.Temperature = c.Relaxation.HeatSource
	}
	if c.Relaxation.Density == 0 {
		c.Relaxation.Density = c.Relaxation.HeatSource
	}
}

// Validate checks every field that the driver cannot check itself and
// reports the first violation. All errors wrap coupled.ErrConfiguration.
func (c *Config) Validate(worldSize int) error {
	if _, err := coupled.ParseNorm(c.Norm); err != nil {
		return err
	}
	if _, err := coupled.ParseInitialSource(c.Initial.Temperature); err != nil {
		return err
	}
	if _, err := coupled.ParseInitialSource(c.Initial.Density); err != nil {
		return err
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"heat_source", c.Relaxation.HeatSource},
		{"temperature", c.Relaxation.Temperature},
		{"density", c.Relaxation.Density},
	} {
		if f.value != coupled.RobbinsMonro && (f.value <= 0 || f.value > 1) {
			return fmt.Errorf("%w: relaxation.%s factor %g outside (0,1] and not %g",
				coupled.ErrConfiguration, f.name, f.value, coupled.RobbinsMonro)
		}
	}
	if c.Boron.Enabled {
		if c.Boron.Tolerance <= 0 {
			return fmt.Errorf("%w: boron.tolerance %g must be positive", coupled.ErrConfiguration, c.Boron.Tolerance)
		}
		if c.Boron.TargetKeff <= 0 {
			return fmt.Errorf("%w: boron.target_keff %g must be positive", coupled.ErrConfiguration, c.Boron.TargetKeff)
		}
	}
	if len(c.Ranks.Neutronics) == 0 {
		return fmt.Errorf("%w: ranks.neutronics is empty", coupled.ErrConfiguration)
	}
	if len(c.Ranks.Heat) == 0 {
		return fmt.Errorf("%w: ranks.heat is empty", coupled.ErrConfiguration)
	}
	member := make(map[int]bool)
	for _, r := range c.Ranks.Neutronics {
		member[r] = true
	}
	for _, r := range c.Ranks.Heat {
		member[r] = true
	}
	for r := 0; r < worldSize; r++ {
		if !member[r] {
			return fmt.Errorf("%w: world rank %d belongs to neither physics group", coupled.ErrConfiguration, r)
		}
	}
	if c.Core.Slabs < 1 {
		return fmt.Errorf("%w: core.slabs %d must be at least 1", coupled.ErrConfiguration, c.Core.Slabs)
	}
	if c.Core.FuelFraction <= 0 || c.Core.FuelFraction >= 1 {
		return fmt.Errorf("%w: core.fuel_fraction %g must lie in (0,1)", coupled.ErrConfiguration, c.Core.FuelFraction)
	}
	// Power, tolerance, and iteration budgets are re-validated by the
	// driver; checking here surfaces them before any goroutines launch.
	if c.Power <= 0 {
		return fmt.Errorf("%w: power %g W must be positive", coupled.ErrConfiguration, c.Power)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance %g must be positive", coupled.ErrConfiguration, c.Tolerance)
	}
	if c.MaxTimesteps < 1 {
		return fmt.Errorf("%w: max_timesteps %d must be at least 1", coupled.ErrConfiguration, c.MaxTimesteps)
	}
	if c.MaxPicard < 1 {
		return fmt.Errorf("%w: max_picard_iter %d must be at least 1", coupled.ErrConfiguration, c.MaxPicard)
	}
	return nil
}

// WorldSize returns the number of ranks the configured groups span: the
// highest mentioned rank plus one.
func (c *Config) WorldSize() int {
	max := -1
	for _, r := range append(append([]int(nil), c.Ranks.Neutronics...), c.Ranks.Heat...) {
		if r > max {
			max = r
		}
	}
	return max + 1
}

// DriverParams translates the validated configuration into the coupling
// driver's parameter set.
func (c *Config) DriverParams() (coupling.Params, error) {
	norm, err := coupled.ParseNorm(c.Norm)
	if err != nil {
		return coupling.Params{}, err
	}
	tempIC, err := coupled.ParseInitialSource(c.Initial.Temperature)
	if err != nil {
		return coupling.Params{}, err
	}
	densIC, err := coupled.ParseInitialSource(c.Initial.Density)
	if err != nil {
		return coupling.Params{}, err
	}
	return coupling.Params{
		Power:            c.Power,
		MaxTimesteps:     c.MaxTimesteps,
		MaxPicard:        c.MaxPicard,
		Epsilon:          c.Tolerance,
		Norm:             norm,
		AlphaHeatSource:  c.Relaxation.HeatSource,
		AlphaTemperature: c.Relaxation.Temperature,
		AlphaDensity:     c.Relaxation.Density,
		TemperatureIC:    tempIC,
		DensityIC:        densIC,
	}, nil
}

// CoreParams translates the surrogate-core section.
func (c *Config) CoreParams() surrogate.CoreParams {
	return surrogate.CoreParams{
		Slabs:        c.Core.Slabs,
		Height:       c.Core.Height,
		Area:         c.Core.Area,
		FuelFraction: c.Core.FuelFraction,
		InletTemp:    c.Core.InletTemp,
		MassFlow:     c.Core.MassFlow,
		HeatCapacity: c.Core.HeatCapacity,
	}
}
