package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tandem/internal/boron"
	"tandem/internal/comm"
	"tandem/internal/config"
	"tandem/internal/coupling"
	"tandem/internal/history"
	"tandem/internal/monitor"
	"tandem/internal/surrogate"
)

var (
	dataDir    string
	configFile string
	preset     string
	verbose    bool

	power     float64
	timesteps int
	picard    int
	tolerance float64
	norm      string
	relax     float64
	boronOn   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tandem",
		Short: "coupled neutronics / thermal-hydraulics iteration engine",
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".tandem", "data directory")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a coupled simulation",
		RunE:  runCoupled,
	}
	addRunFlags(runCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "run a coupled simulation with the live monitor",
		RunE:  watchCoupled,
	}
	addRunFlags(watchCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run's convergence history",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a stored run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "print the effective configuration as yaml",
		RunE:  printConfig,
	}
	configCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	configCmd.Flags().StringVar(&preset, "preset", "", "start from a preset configuration")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range config.ListPresets() {
				fmt.Println(name)
			}
		},
	}

	rootCmd.AddCommand(runCmd, watchCmd, listCmd, plotCmd, exportCmd, configCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "start from a preset configuration")
	cmd.Flags().Float64Var(&power, "power", config.DefaultPower, "core thermal power [W]")
	cmd.Flags().IntVar(&timesteps, "timesteps", config.DefaultMaxTimesteps, "number of time steps")
	cmd.Flags().IntVar(&picard, "picard", config.DefaultMaxPicard, "Picard iteration budget per step")
	cmd.Flags().Float64Var(&tolerance, "tolerance", config.DefaultTolerance, "convergence tolerance")
	cmd.Flags().StringVar(&norm, "norm", config.DefaultNorm, "convergence norm (l1|l2|linf)")
	cmd.Flags().Float64Var(&relax, "relax", config.DefaultRelaxation, "heat-source relaxation factor")
	cmd.Flags().BoolVar(&boronOn, "boron", true, "enable the criticality search")
}

// buildConfig merges preset, config file, and explicitly set flags, in
// increasing precedence.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("power") {
		cfg.Power = power
	}
	if cmd.Flags().Changed("timesteps") {
		cfg.MaxTimesteps = timesteps
	}
	if cmd.Flags().Changed("picard") {
		cfg.MaxPicard = picard
	}
	if cmd.Flags().Changed("tolerance") {
		cfg.Tolerance = tolerance
	}
	if cmd.Flags().Changed("norm") {
		cfg.Norm = norm
	}
	if cmd.Flags().Changed("relax") {
		cfg.Relaxation.HeatSource = relax
		cfg.Relaxation.Temperature = relax
		cfg.Relaxation.Density = relax
	}
	if cmd.Flags().Changed("boron") {
		cfg.Boron.Enabled = boronOn
	}
	if verbose {
		cfg.Verbose = true
	}

	if err := cfg.Validate(cfg.WorldSize()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.TimeKey = ""
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zcfg.Build()
}

// execute launches the rank world and drives the coupled solve,
// returning the run record computed on the root rank.
func execute(cfg *config.Config, log *zap.Logger, obs coupling.Observer) (*coupling.Result, error) {
	params, err := cfg.DriverParams()
	if err != nil {
		return nil, err
	}
	core := cfg.CoreParams()

	world, err := comm.NewWorld(cfg.WorldSize())
	if err != nil {
		return nil, err
	}

	var result *coupling.Result
	err = world.Launch(func(c *comm.Comm) error {
		part, err := comm.SplitPhysics(c, cfg.Ranks.Neutronics, cfg.Ranks.Heat)
		if err != nil {
			return err
		}

		neut := surrogate.NewNeutronics(part.Neutronics, core)
		heat := surrogate.NewHeatFluids(part.Heat, core)

		opts := []coupling.Option{coupling.WithLogger(log)}
		if cfg.Boron.Enabled {
			crit, err := boron.NewSearch(cfg.Boron.TargetKeff, cfg.Boron.Tolerance, cfg.Boron.InitialPPM)
			if err != nil {
				return err
			}
			opts = append(opts, coupling.WithCriticality(crit))
		}
		if obs != nil {
			opts = append(opts, coupling.WithObserver(obs))
		}

		drv, err := coupling.New(c, part, neut, heat, params, opts...)
		if err != nil {
			return err
		}
		res, err := drv.Execute(context.Background())
		if err != nil {
			return err
		}
		if c.Root() {
			result = res
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func saveRun(cfg *config.Config, result *coupling.Result, elapsed time.Duration) (string, error) {
	st := history.New(dataDir)
	if err := st.Init(); err != nil {
		return "", err
	}
	return st.Save(history.RunMetadata{
		Power:        cfg.Power,
		MaxTimesteps: cfg.MaxTimesteps,
		MaxPicard:    cfg.MaxPicard,
		Tolerance:    cfg.Tolerance,
		Norm:         cfg.Norm,
		Boron:        cfg.Boron.Enabled,
		Ranks:        cfg.WorldSize(),
		Elapsed:      elapsed.Seconds(),
	}, result)
}

func runCoupled(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	start := time.Now()
	result, err := execute(cfg, log, nil)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	runID, err := saveRun(cfg, result, elapsed)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	for _, ts := range result.Timesteps {
		status := "converged"
		if !ts.Converged {
			status = "budget exhausted"
		}
		fmt.Printf("timestep %d: %d iterations, norm %.3e, k-eff %.5f, boron %.1f ppm (%s)\n",
			ts.Timestep, ts.Iterations, ts.FinalNorm, ts.Keff, ts.BoronPPM, status)
	}
	return nil
}

func watchCoupled(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	// The monitor owns the terminal; keep structured logs out of it.
	log := zap.NewNop()

	feed := monitor.NewFeed()
	p := tea.NewProgram(monitor.NewModel(feed))

	type outcome struct {
		result  *coupling.Result
		elapsed time.Duration
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		start := time.Now()
		result, err := execute(cfg, log, feed)
		feed.Close()
		done <- outcome{result: result, elapsed: time.Since(start), err: err}
	}()

	if _, err := p.Run(); err != nil {
		return err
	}
	out := <-done
	if out.err != nil {
		return out.err
	}

	runID, err := saveRun(cfg, out.result, out.elapsed)
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", runID)
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := history.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tCONVERGED\tITERS\tNORM\tK-EFF\tBORON")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%.3e\t%.5f\t%.1f\n",
			run.ID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Converged,
			run.Iterations,
			run.FinalNorm,
			run.FinalKeff,
			run.BoronPPM,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := history.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	events, err := st.LoadHistory(args[0])
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("converged: %t, iterations: %d\n\n", meta.Converged, meta.Iterations)

	norms := make([]float64, len(events))
	keffs := make([]float64, len(events))
	for i, ev := range events {
		norms[i] = ev.Norm
		keffs[i] = ev.Keff
	}

	fmt.Println(asciigraph.Plot(norms,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("temperature norm per iteration")))
	fmt.Println()
	fmt.Println(asciigraph.Plot(keffs,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("k-eff per iteration")))
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := history.New(dataDir)
	return st.ExportJSONFile("-", args[0])
}

func printConfig(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	data, err := config.Dump(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
