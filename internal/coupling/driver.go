package coupling

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"tandem/internal/comm"
	"tandem/internal/coupled"
	"tandem/internal/field"
	"tandem/internal/mapping"
	"tandem/internal/solver"
)

// Params is the coupled solve configuration, validated at construction.
type Params struct {
	// Power is the core thermal power in watts, used to normalize the
	// heat source.
	Power float64

	MaxTimesteps int
	MaxPicard    int

	// Epsilon is the Picard convergence tolerance on the temperature
	// norm.
	Epsilon float64

	Norm coupled.Norm

	// Relaxation factors per field: a constant in (0,1] or the
	// coupled.RobbinsMonro sentinel.
	AlphaHeatSource  float64
	AlphaTemperature float64
	AlphaDensity     float64

	TemperatureIC coupled.InitialSource
	DensityIC     coupled.InitialSource
}

// Driver runs the outer time-step / inner Picard loop, orchestrating the
// two physics backends through their adapter contracts. All per-run
// mutable state lives in the Driver value, so several simulations can
// coexist in one process.
type Driver struct {
	log    *zap.Logger
	parent *comm.Comm
	part   *comm.Partition
	neut   solver.Neutronics
	heat   solver.HeatFluids
	crit   Criticality
	obs    Observer

	params Params

	tables *mapping.Tables

	// Cell-indexed field snapshots. The heat source is the neutronics
	// product; temperature and density are the heat/fluids products
	// averaged onto cells.
	temps      *field.Snapshot
	densities  *field.Snapshot
	heatSource *field.Snapshot

	relaxQ   *field.Relaxer
	relaxT   *field.Relaxer
	relaxRho *field.Relaxer

	state     State
	iTimestep int
	iPicard   int

	keff      float64
	keffPrev  float64
	ppm       float64
	critBegan bool

	alphaQ, alphaT, alphaRho float64
}

// Option configures optional driver collaborators.
type Option func(*Driver)

// WithCriticality enables the boron search.
func WithCriticality(c Criticality) Option {
	return func(d *Driver) { d.crit = c }
}

// WithObserver attaches a per-iteration diagnostics sink.
func WithObserver(o Observer) Option {
	return func(d *Driver) { d.obs = o }
}

// WithLogger replaces the default no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Driver) { d.log = log }
}

// New validates the configuration and binds the driver to its
// collaborators. Every configuration error surfaces here, before any
// stepping occurs.
func New(parent *comm.Comm, part *comm.Partition, neut solver.Neutronics, heat solver.HeatFluids, params Params, opts ...Option) (*Driver, error) {
	if params.MaxTimesteps < 1 {
		return nil, fmt.Errorf("%w: max timesteps %d must be at least 1", coupled.ErrConfiguration, params.MaxTimesteps)
	}
	if params.MaxPicard < 1 {
		return nil, fmt.Errorf("%w: max Picard iterations %d must be at least 1", coupled.ErrConfiguration, params.MaxPicard)
	}
	if params.Epsilon <= 0 {
		return nil, fmt.Errorf("%w: tolerance %g must be positive", coupled.ErrConfiguration, params.Epsilon)
	}
	if params.Power <= 0 {
		return nil, fmt.Errorf("%w: power %g W must be positive", coupled.ErrConfiguration, params.Power)
	}

	d := &Driver{
		log:    zap.NewNop(),
		parent: parent,
		part:   part,
		neut:   neut,
		heat:   heat,
		params: params,
		state:  Idle,
	}

	var err error
	if d.relaxQ, err = field.NewRelaxer(params.AlphaHeatSource); err != nil {
		return nil, fmt.Errorf("heat source: %w", err)
	}
	if d.relaxT, err = field.NewRelaxer(params.AlphaTemperature); err != nil {
		return nil, fmt.Errorf("temperature: %w", err)
	}
	if d.relaxRho, err = field.NewRelaxer(params.AlphaDensity); err != nil {
		return nil, fmt.Errorf("density: %w", err)
	}

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// State returns the driver's current position in the solve.
func (d *Driver) State() State { return d.state }

// TimestepIndex returns the current time-step index.
func (d *Driver) TimestepIndex() int { return d.iTimestep }

// PicardIndex returns the Picard index within the current time step.
func (d *Driver) PicardIndex() int { return d.iPicard }

// firstIteration reports whether this is the first Picard iteration of
// the first time step, which never counts as converged: at least one
// full field exchange must occur.
func (d *Driver) firstIteration() bool {
	return d.iTimestep == 0 && d.iPicard == 0
}

func (d *Driver) root() bool { return d.parent.Root() }

// Execute runs the coupled solve to completion: mapping construction,
// initial conditions, then the time-step loop. Exhausting the Picard
// budget in a step is advisory; the run continues with the last fields.
func (d *Driver) Execute(ctx context.Context) (*Result, error) {
	if err := d.initialize(); err != nil {
		return nil, err
	}

	result := &Result{Converged: true}
	for ts := 0; ts < d.params.MaxTimesteps; ts++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.iTimestep = ts
		d.iPicard = 0
		d.state = TimestepActive

		tr, err := d.runTimestep(result)
		if err != nil {
			return nil, err
		}
		result.Timesteps = append(result.Timesteps, tr)
		if !tr.Converged {
			result.Converged = false
		}
	}
	return result, nil
}

func (d *Driver) runTimestep(result *Result) (TimestepResult, error) {
	tr := TimestepResult{Timestep: d.iTimestep}

	for p := 0; p < d.params.MaxPicard; p++ {
		d.iPicard = p
		d.state = PicardActive

		// Previous iterates advance only here, at the start of a new
		// Picard iteration.
		if !d.firstIteration() {
			d.temps.Advance()
			d.densities.Advance()
			d.heatSource.Advance()
		}

		if err := d.solveCriticality(); err != nil {
			return tr, err
		}
		if err := d.stepNeutronics(); err != nil {
			return tr, err
		}
		if err := d.updateHeatSource(true); err != nil {
			return tr, err
		}
		if err := d.stepHeat(); err != nil {
			return tr, err
		}
		if err := d.updateTemperature(true); err != nil {
			return tr, err
		}
		if err := d.updateDensity(true); err != nil {
			return tr, err
		}

		norm := d.temperatureNorm()
		converged := d.isConverged(norm)

		ev := IterationEvent{
			Timestep:         d.iTimestep,
			Picard:           p,
			Norm:             norm,
			Keff:             d.keff,
			BoronPPM:         d.ppm,
			AlphaHeatSource:  d.alphaQ,
			AlphaTemperature: d.alphaT,
			AlphaDensity:     d.alphaRho,
			Converged:        converged,
		}
		result.Events = append(result.Events, ev)
		if d.obs != nil && d.root() {
			d.obs.OnIteration(ev)
		}
		d.log.Debug("picard iteration",
			zap.Int("timestep", d.iTimestep),
			zap.Int("picard", p),
			zap.Float64("norm", norm),
			zap.Float64("keff", d.keff),
			zap.Bool("converged", converged))

		tr.Iterations = p + 1
		tr.FinalNorm = norm
		tr.Keff = d.keff
		tr.BoronPPM = d.ppm
		if converged {
			tr.Converged = true
			d.state = Converged
			d.log.Info("timestep converged",
				zap.Int("timestep", d.iTimestep),
				zap.Int("iterations", tr.Iterations),
				zap.Float64("norm", norm))
			return tr, nil
		}
	}

	d.state = MaxIterReached
	d.log.Warn("picard iteration budget exhausted; accepting last fields",
		zap.Int("timestep", d.iTimestep),
		zap.Int("max_picard", d.params.MaxPicard),
		zap.Float64("norm", tr.FinalNorm),
		zap.Float64("tolerance", d.params.Epsilon))
	return tr, nil
}

// initialize builds the one-time mapping, sizes the snapshots, and seeds
// the initial conditions from the configured sources.
func (d *Driver) initialize() error {
	var m mapping.Mapper
	tables, err := m.Build(d.parent, d.part, d.neut, d.heat)
	if err != nil {
		return err
	}
	d.tables = tables

	if d.root() {
		d.log.Info("discretization mapping built",
			zap.Int("cells", tables.NumCells()),
			zap.Int("elements", tables.NumElements()),
			zap.Int("fluid_cells", len(tables.FluidCells())))
		d.log.Info("communicator layout",
			zap.Ints("neutronics_ranks", d.part.NeutronicsRanks),
			zap.Ints("heat_ranks", d.part.HeatRanks),
			zap.Int("neutronics_root", d.part.NeutronicsRoot),
			zap.Int("heat_root", d.part.HeatRoot))
		d.log.Debug("rank assignment\n" + d.part.Report())
	}
	if d.parent.Rank() == d.part.NeutronicsRoot {
		for i, cell := range tables.Cells {
			if tables.CellVolumes[i] == 0 {
				d.log.Warn("cell maps no elements; excluded from feedback",
					zap.String("cell", d.neut.CellLabel(cell)))
			}
		}
	}

	n := tables.NumCells()
	d.temps = field.NewSnapshot(n)
	d.densities = field.NewSnapshot(n)
	// The neutronics solver runs first, so the heat source needs no
	// initial condition beyond zero.
	d.heatSource = field.NewSnapshot(n)

	if err := d.initTemperatures(); err != nil {
		return err
	}
	if err := d.initDensities(); err != nil {
		return err
	}

	if d.crit != nil {
		d.crit.SetFluidCells(tables.FluidCells())
		d.ppm = d.crit.PPM()
	}
	return d.parent.Barrier()
}

func (d *Driver) initTemperatures() error {
	var init []float64
	var err error
	switch d.params.TemperatureIC {
	case coupled.InitialNeutronics:
		init, err = d.cellFieldFromNeutronics(func(c coupled.CellHandle) float64 {
			return d.neut.Temperature(c)
		})
	case coupled.InitialHeat:
		var elem []float64
		elem, err = d.gatherElemField(func() []float64 { return d.heat.Temperature() })
		if err == nil {
			init = field.ToCells(elem, d.tables)
		}
	}
	if err != nil {
		return err
	}
	d.temps.SetCurrent(init)
	d.temps.Advance()
	return nil
}

func (d *Driver) initDensities() error {
	var init []float64
	var err error
	switch d.params.DensityIC {
	case coupled.InitialNeutronics:
		init, err = d.cellFieldFromNeutronics(func(c coupled.CellHandle) float64 {
			return d.neut.Density(c)
		})
	case coupled.InitialHeat:
		var elem []float64
		elem, err = d.gatherElemField(func() []float64 { return d.heat.Density() })
		if err == nil {
			init = field.ToCells(elem, d.tables)
		}
	}
	if err != nil {
		return err
	}
	d.densities.SetCurrent(init)
	d.densities.Advance()
	return nil
}

// solveCriticality runs the boron search once per Picard iteration,
// before the neutronics step. It is skipped on the very first iteration
// of the run: no eigenvalue estimate exists yet.
func (d *Driver) solveCriticality() error {
	if d.crit == nil || d.firstIteration() {
		return nil
	}
	d.ppm = d.crit.SolvePPM(!d.critBegan, d.keff, d.keffPrev)
	d.critBegan = true

	if bs, ok := d.neut.(solver.BoronSetter); ok && d.neut.Active() {
		if err := bs.SetBoronPPM(d.ppm); err != nil {
			return d.phaseErr("boron update", err)
		}
	}
	d.log.Debug("criticality search",
		zap.Float64("ppm", d.ppm),
		zap.Float64("keff", d.keff),
		zap.Bool("boron_converged", d.crit.Converged()))
	return nil
}

func (d *Driver) stepNeutronics() error {
	if err := d.neut.InitStep(); err != nil {
		return d.phaseErr("neutronics init", err)
	}
	if err := d.neut.SolveStep(); err != nil {
		return d.phaseErr("neutronics solve", err)
	}
	if w, ok := d.neut.(solver.StepWriter); ok && d.neut.Active() {
		if err := w.WriteStep(d.iTimestep, d.iPicard); err != nil {
			return d.phaseErr("neutronics write", err)
		}
	}
	if err := d.neut.FinalizeStep(); err != nil {
		return d.phaseErr("neutronics finalize", err)
	}

	// Share the eigenvalue with every rank for the boron search and
	// diagnostics.
	var keff float64
	if d.parent.Rank() == d.part.NeutronicsRoot {
		keff = d.neut.Keff()
	}
	keff, err := comm.BcastScalar(d.parent, d.part.NeutronicsRoot, keff)
	if err != nil {
		return err
	}
	d.keffPrev = d.keff
	d.keff = keff
	return nil
}

func (d *Driver) stepHeat() error {
	if err := d.heat.InitStep(); err != nil {
		return d.phaseErr("heat init", err)
	}
	if err := d.heat.SolveStep(); err != nil {
		return d.phaseErr("heat solve", err)
	}
	if w, ok := d.heat.(solver.StepWriter); ok && d.heat.Active() {
		if err := w.WriteStep(d.iTimestep, d.iPicard); err != nil {
			return d.phaseErr("heat write", err)
		}
	}
	if err := d.heat.FinalizeStep(); err != nil {
		return d.phaseErr("heat finalize", err)
	}
	return nil
}

// updateHeatSource pulls the normalized per-cell source from the
// neutronics root, relaxes it, and delivers each heat rank its local
// element slice.
func (d *Driver) updateHeatSource(relax bool) error {
	var raw []float64
	if d.parent.Rank() == d.part.NeutronicsRoot {
		qByCell, err := d.neut.HeatSource(d.params.Power)
		if err != nil {
			return d.phaseErr("heat source", err)
		}
		raw = make([]float64, d.tables.NumCells())
		for i, cell := range d.tables.Cells {
			raw[i] = qByCell[cell]
		}
	}
	raw, err := comm.Bcast(d.parent, d.part.NeutronicsRoot, raw)
	if err != nil {
		return err
	}

	cur := raw
	if relax {
		d.alphaQ = d.relaxQ.Factor(d.iPicard, d.firstIteration())
		cur = field.Relax(raw, d.heatSource.Previous(), d.alphaQ)
	}
	d.heatSource.SetCurrent(cur)

	if hc := d.part.Heat; hc != nil {
		elemQ := field.ToElements(cur, d.tables)
		off := d.tables.ElemOffset(hc.Rank())
		n := len(d.heat.LocalElements())
		if err := d.heat.SetHeatSource(elemQ[off : off+n]); err != nil {
			return d.phaseErr("heat source", err)
		}
	}
	return d.parent.Barrier()
}

// updateTemperature averages the heat solver's element temperatures onto
// cells, relaxes, and pushes the result into the neutronics backend.
func (d *Driver) updateTemperature(relax bool) error {
	elemT, err := d.gatherElemField(func() []float64 { return d.heat.Temperature() })
	if err != nil {
		return err
	}
	raw := field.ToCells(elemT, d.tables)

	cur := raw
	if relax {
		d.alphaT = d.relaxT.Factor(d.iPicard, d.firstIteration())
		cur = field.Relax(raw, d.temps.Previous(), d.alphaT)
	}
	d.temps.SetCurrent(cur)

	if d.neut.Active() {
		for i, cell := range d.tables.Cells {
			if d.tables.CellVolumes[i] == 0 {
				continue
			}
			if err := d.neut.SetTemperature(cell, cur[i]); err != nil {
				return d.phaseErr("temperature update", err)
			}
		}
	}
	return d.parent.Barrier()
}

// updateDensity mirrors updateTemperature but only fluid-masked cells
// participate; solid cells keep their previous density.
func (d *Driver) updateDensity(relax bool) error {
	elemRho, err := d.gatherElemField(func() []float64 { return d.heat.Density() })
	if err != nil {
		return err
	}
	raw := field.ToCells(elemRho, d.tables)

	cur := raw
	if relax {
		d.alphaRho = d.relaxRho.Factor(d.iPicard, d.firstIteration())
		cur = field.Relax(raw, d.densities.Previous(), d.alphaRho)
	}
	prev := d.densities.Previous()
	for i := range cur {
		if !d.tables.CellFluid[i] {
			cur[i] = prev[i]
		}
	}
	d.densities.SetCurrent(cur)

	if d.neut.Active() {
		for i, cell := range d.tables.Cells {
			if !d.tables.CellFluid[i] {
				continue
			}
			if err := d.neut.SetDensity(cell, cur[i]); err != nil {
				return d.phaseErr("density update", err)
			}
		}
	}
	return d.parent.Barrier()
}

// gatherElemField assembles a per-element field from the heat ranks into
// the canonical gathered order and replicates it to every parent rank.
func (d *Driver) gatherElemField(local func() []float64) ([]float64, error) {
	var global []float64
	if hc := d.part.Heat; hc != nil {
		parts, err := comm.Gatherv(hc, 0, local())
		if err != nil {
			return nil, err
		}
		if hc.Root() {
			global = make([]float64, 0, d.tables.NumElements())
			for _, part := range parts {
				global = append(global, part...)
			}
		}
	}
	return comm.Bcast(d.parent, d.part.HeatRoot, global)
}

// cellFieldFromNeutronics reads a per-cell scalar on the neutronics root
// and replicates it, for initial conditions sourced from the neutronics
// input.
func (d *Driver) cellFieldFromNeutronics(get func(coupled.CellHandle) float64) ([]float64, error) {
	var v []float64
	if d.parent.Rank() == d.part.NeutronicsRoot {
		v = make([]float64, d.tables.NumCells())
		for i, cell := range d.tables.Cells {
			v[i] = get(cell)
		}
	}
	return comm.Bcast(d.parent, d.part.NeutronicsRoot, v)
}

// temperatureNorm measures the distance between the current and previous
// relaxed temperature iterates over meaningfully populated cells only;
// zero-volume cells would inflate the norm with sentinel values.
func (d *Driver) temperatureNorm() float64 {
	cur, prev := d.temps.Current(), d.temps.Previous()
	diff := make([]float64, 0, len(cur))
	for i := range cur {
		if d.tables.CellVolumes[i] > 0 {
			diff = append(diff, cur[i]-prev[i])
		}
	}
	if len(diff) == 0 {
		return 0
	}
	n := float64(len(diff))
	switch d.params.Norm {
	case coupled.NormL1:
		return floats.Norm(diff, 1) / n
	case coupled.NormL2:
		return floats.Norm(diff, 2) / math.Sqrt(n)
	default:
		return floats.Norm(diff, math.Inf(1))
	}
}

func (d *Driver) isConverged(norm float64) bool {
	if d.firstIteration() {
		return false
	}
	if d.crit != nil && !d.crit.Converged() {
		return false
	}
	return norm < d.params.Epsilon
}

func (d *Driver) phaseErr(phase string, err error) error {
	return &coupled.IterationError{
		Timestep: d.iTimestep,
		Picard:   d.iPicard,
		Phase:    phase,
		Wrapped:  fmt.Errorf("%w: %s: %w", coupled.ErrSolver, phase, err),
	}
}
