package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/san-kum/cardiosim/internal/config"
	"github.com/san-kum/cardiosim/internal/logging"
	"github.com/san-kum/cardiosim/internal/mesh"
	"github.com/san-kum/cardiosim/internal/postproc"
	"github.com/san-kum/cardiosim/internal/problem"
	"github.com/san-kum/cardiosim/internal/results"
	"github.com/san-kum/cardiosim/internal/solver"
	"github.com/san-kum/cardiosim/internal/tissue"
	"github.com/san-kum/cardiosim/internal/viz"
)

var (
	configFile string
	outputDir  string
	prefix     string
	duration   float64
	printingDt float64
	pdeDt      float64
	odeDt      float64
	shapeName  string
	variables  []string
	writeInfo  bool
	verbose    bool
	plotVar    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cardiosim",
		Short: "cardiac tissue electrophysiology simulation lab",
	}

	rootCmd.PersistentFlags().StringVar(&outputDir, "out", "cardiosim_output", "output directory")
	rootCmd.PersistentFlags().StringVar(&prefix, "prefix", "results", "output filename prefix")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a simulation",
		RunE:  runSimulation,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "simulation duration (ms)")
	runCmd.Flags().Float64Var(&printingDt, "printing-dt", config.DefaultPrintingDt, "printing interval (ms)")
	runCmd.Flags().Float64Var(&pdeDt, "pde-dt", config.DefaultPdeDt, "PDE timestep (ms)")
	runCmd.Flags().Float64Var(&odeDt, "ode-dt", config.DefaultOdeDt, "ODE timestep (ms)")
	runCmd.Flags().StringVar(&shapeName, "shape", "monodomain", "problem variant (monodomain, bidomain, extended-bidomain, tetradomain)")
	runCmd.Flags().StringSliceVar(&variables, "variables", nil, "extra cell variables to record")
	runCmd.Flags().BoolVar(&writeInfo, "write-info", false, "log voltage range per interval")

	plotCmd := &cobra.Command{
		Use:   "plot [node]",
		Short: "plot a recorded trace",
		Args:  cobra.MaximumNArgs(1),
		RunE:  plotTrace,
	}
	plotCmd.Flags().StringVar(&plotVar, "var", "V", "variable to plot")

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "summarise a result store",
		RunE:  summariseStore,
	}

	convertCmd := &cobra.Command{
		Use:   "convert [csv|vtk]",
		Short: "convert a result store for external visualizers",
		Args:  cobra.MinimumNArgs(1),
		RunE:  convertStore,
	}
	convertCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list result stores under the output directory",
		RunE:  listStores,
	}

	initCmd := &cobra.Command{
		Use:   "init [file]",
		Short: "write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "cardiosim.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, plotCmd, summaryCmd, convertCmd, listCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildConfig assembles the run configuration: file values first, then
// any flag the user actually set on top.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("time") {
		cfg.SimulationDuration = duration
	}
	if cmd.Flags().Changed("printing-dt") {
		cfg.PrintingTimeStep = printingDt
	}
	if cmd.Flags().Changed("pde-dt") {
		cfg.PdeTimeStep = pdeDt
	}
	if cmd.Flags().Changed("ode-dt") {
		cfg.OdeTimeStep = odeDt
	}
	if cmd.Flags().Changed("variables") {
		cfg.Output.Variables = variables
	}
	if cmd.Flags().Changed("out") || cfg.OutputDirectory == "" {
		cfg.OutputDirectory = outputDir
	}
	if cmd.Flags().Changed("prefix") || cfg.OutputFilenamePrefix == "" {
		cfg.OutputFilenamePrefix = prefix
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func pickShape(name string) (problem.Shape, error) {
	switch name {
	case "monodomain":
		return problem.Monodomain(), nil
	case "bidomain":
		return problem.Bidomain(), nil
	case "extended-bidomain":
		return problem.ExtendedBidomain(), nil
	case "tetradomain":
		return problem.Tetradomain(), nil
	default:
		return problem.Shape{}, fmt.Errorf("unknown problem variant: %s", name)
	}
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	shape, err := pickShape(shapeName)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := logging.New(level)

	solverFactory := func(t *tissue.Tissue, bc *solver.BoundaryConditions, components int) (solver.Solver, error) {
		return solver.NewExplicit(t, bc, components), nil
	}
	p, err := problem.New(cfg, shape, tissue.NewFHNCellFactory(), solverFactory,
		problem.WithLogger(log))
	if err != nil {
		return err
	}
	p.SetWriteInfo(writeInfo)

	if err := p.Initialise(); err != nil {
		return err
	}
	log.Info("starting simulation",
		"shape", shape.Name,
		"nodes", p.Mesh().NumNodes(),
		"duration", cfg.SimulationDuration)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Solve(ctx); err != nil {
		return err
	}
	log.Info("simulation complete", "store", results.StoreDir(cfg.OutputDirectory, cfg.OutputFilenamePrefix))

	if verbose {
		if err := p.EventTimings().Report(os.Stderr); err != nil {
			return err
		}
	}
	return nil
}

func plotTrace(cmd *cobra.Command, args []string) error {
	node := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("node must be an integer: %s", args[0])
		}
		node = n
	}
	r, err := results.NewReader(outputDir, prefix)
	if err != nil {
		return err
	}
	out, err := viz.Trace(r, plotVar, node)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func summariseStore(cmd *cobra.Command, args []string) error {
	r, err := results.NewReader(outputDir, prefix)
	if err != nil {
		return err
	}
	out, err := viz.Summary(r)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

func convertStore(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	cfg.OutputDirectory = outputDir
	cfg.OutputFilenamePrefix = prefix
	cfg.Output.Visualizers = args
	cfg.PostProcessing.Enabled = false

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := logging.New(level)

	pipeline, err := postproc.NewPipeline(cfg, log)
	if err != nil {
		return err
	}
	r, err := results.NewReader(outputDir, prefix)
	if err != nil {
		return err
	}
	// Conversion needs mesh geometry only for VTK; rebuild from config.
	m, err := meshForConversion(cfg)
	if err != nil {
		return err
	}
	return pipeline.Run(r, m, m != nil && m.HasBathNodes())
}

// meshForConversion rebuilds the mesh described by the configuration.
// Only the VTK converter needs geometry; without a mesh source it gets
// nil and reports the problem itself.
func meshForConversion(cfg *config.Config) (*mesh.Mesh, error) {
	switch {
	case cfg.Mesh.LoadPath != "":
		f, err := os.Open(cfg.Mesh.LoadPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return mesh.ConstructFromReader(f)
	case len(cfg.Mesh.SlabDimensions) > 0:
		return mesh.ConstructRegularSlab(cfg.Mesh.NodeSpacing, cfg.Mesh.SlabDimensions...)
	default:
		return nil, nil
	}
}

func listStores(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return err
	}
	found := false
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".crd") {
			continue
		}
		found = true
		pfx := strings.TrimSuffix(e.Name(), ".crd")
		r, err := results.NewReader(outputDir, pfx)
		if err != nil {
			fmt.Printf("%-20s (unreadable: %v)\n", pfx, err)
			continue
		}
		rows, _ := r.NumRows()
		fmt.Printf("%-20s %4d nodes  %5d rows  %s\n",
			pfx, r.FixedDimension(), rows, strings.Join(r.Variables(), ","))
	}
	if !found {
		fmt.Printf("no result stores under %s\n", outputDir)
	}
	return nil
}
