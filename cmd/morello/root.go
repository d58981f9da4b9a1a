package main

import (
	"context"
	"fmt"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"

	"github.com/ken-matsui/morello/cost"
	"github.com/ken-matsui/morello/db"
	"github.com/ken-matsui/morello/internal/logging"
	"github.com/ken-matsui/morello/search"
)

var configPath string

// newRootCommand builds morello's cobra command tree: a root command
// carrying the shared --config flag and one "synthesize" subcommand
// invoking the engine.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "morello",
		Short:         "Scheduling superoptimizer for tensor programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	root.AddCommand(newSynthesizeCommand())
	return root
}

func newSynthesizeCommand() *cobra.Command {
	var f specFlags
	var topK, jobs int
	var tilingDepth int
	var tilingDepthSet bool

	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Synthesize an optimal implementation for one Spec",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			cli, err := logging.Setup(cfg.Log)
			if err != nil {
				return errors.Annotate(err, "setting up logging")
			}

			if cmd.Flags().Changed("top-k") {
				cfg.Search.TopK = topK
			}
			if cmd.Flags().Changed("jobs") {
				cfg.Search.Jobs = jobs
			}
			if tilingDepthSet {
				td := tilingDepth
				cfg.Search.TilingDepth = &td
			}

			goal, err := buildGoal(f)
			if err != nil {
				return err
			}

			var tilingDepthPtr *uint32
			if cfg.Search.TilingDepth != nil {
				td := uint32(*cfg.Search.TilingDepth)
				tilingDepthPtr = &td
			}

			database, closeDB, err := openDatabase(cfg.Database, cfg.Search.TopK, tilingDepthPtr)
			if err != nil {
				return errors.Annotate(err, "opening database")
			}
			defer closeDB()

			cli.WithField("goal", goal.String()).Info("starting synthesis")

			result, hits, misses, err := search.TopDown(context.Background(), database, goal, cfg.Search.TopK, cfg.Search.Jobs)
			if err != nil {
				return errors.Annotate(err, "synthesis failed")
			}

			cli.WithField("hits", hits).WithField("misses", misses).Info("synthesis complete")
			printResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&f.kind, "kind", "", "matmul, conv, move, or zero (required)")
	cmd.Flags().StringVar(&f.shape, "shape", "", "comma-separated dimension sizes (required)")
	cmd.Flags().StringVar(&f.dtype, "dtype", "u32", "u8, u16, or u32")
	cmd.Flags().BoolVar(&f.serial, "serial", false, "forbid parallel tile-out variants")
	cmd.Flags().StringVar(&f.srcLevel, "src-level", "GL", "move source memory level")
	cmd.Flags().StringVar(&f.dstLevel, "dst-level", "RF", "move destination memory level")
	cmd.Flags().StringVar(&f.level, "level", "GL", "zero operand memory level")
	cmd.Flags().StringVar(&f.limits, "limits", "1048576,65536,4096", "comma-separated GL,L1,RF byte budgets")
	cmd.Flags().IntVar(&topK, "top-k", 1, "number of results to keep per Spec")
	cmd.Flags().IntVar(&jobs, "jobs", 0, "parallel workers (0 = all cores)")
	cmd.Flags().IntVar(&tilingDepth, "tiling-depth", 0, "tile-size enumeration cap (overrides the config file when given)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("shape")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		tilingDepthSet = cmd.Flags().Changed("tiling-depth")
	}

	return cmd
}

func openDatabase(cfg DatabaseConfig, topK int, tilingDepth *uint32) (db.Database, func(), error) {
	maxK := topK
	switch cfg.Backend {
	case "", "memory":
		return db.NewMemDatabase(maxK, tilingDepth), func() {}, nil
	case "badger":
		if cfg.Dir == "" {
			return nil, nil, errors.New("database.dir must be set for the badger backend")
		}
		bdb, err := db.OpenBadgerDatabase(cfg.Dir, maxK, tilingDepth)
		if err != nil {
			return nil, nil, err
		}
		return bdb, func() { _ = bdb.Close() }, nil
	default:
		return nil, nil, errors.Errorf("unknown database backend %q (want memory or badger)", cfg.Backend)
	}
}

func printResult(cmd *cobra.Command, result cost.ActionCostVec) {
	if len(result) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "unsatisfiable: no legal implementation within the given memory limits")
		return
	}
	for _, ac := range result {
		fmt.Fprintf(cmd.OutOrStdout(), "action=%d cost=%s\n", ac.ActionIdx, ac.Cost)
	}
}
