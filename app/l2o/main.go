// Command l2o meta-trains learned optimizers and evaluates their
// checkpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ponder-lab/l2o/checkpoints"
	"github.com/ponder-lab/l2o/config"
	"github.com/ponder-lab/l2o/training"
)

const runConfigFile = "config.yaml"

var log = logrus.New()

func main() {
	root := &cobra.Command{
		Use:           "l2o",
		Short:         "Meta-train learned optimizers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var verbose bool
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	}

	root.AddCommand(trainCommand(), evaluateCommand(), presetsCommand())

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func trainCommand() *cobra.Command {
	var (
		configPath string
		preset     string
		directory  string
		periods    int
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run learning periods until the strategy completes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				cfg, err = config.Load(configPath)
				if err != nil {
					return err
				}
			}
			if preset != "" {
				if err := config.ApplyPreset(&cfg, preset); err != nil {
					return err
				}
			}
			if directory != "" {
				cfg.Directory = directory
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			return runTraining(signalContext(), cfg, periods)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML run configuration")
	cmd.Flags().StringVarP(&preset, "preset", "p", "", "named preset applied over the config")
	cmd.Flags().StringVarP(&directory, "dir", "d", "", "working directory override")
	cmd.Flags().IntVarP(&periods, "periods", "n", 0, "cap on periods this invocation (0 = until complete)")
	return cmd
}

func evaluateCommand() *cobra.Command {
	var (
		unroll int
		seed   int64
	)
	cmd := &cobra.Command{
		Use:   "evaluate DIR STAGE PERIOD",
		Short: "Evaluate one checkpoint of a finished or running run",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			stage, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("stage must be an integer: %w", err)
			}
			period, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("period must be an integer: %w", err)
			}
			return runEvaluation(dir, stage, period, unroll, seed)
		},
	}
	cmd.Flags().IntVarP(&unroll, "unroll", "u", 0, "unroll length (default: the run's configured unroll)")
	cmd.Flags().Int64VarP(&seed, "seed", "s", 101, "evaluation seed")
	return cmd
}

func presetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List available run presets",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range config.PresetNames() {
				fmt.Println(name)
			}
		},
	}
}

// signalContext cancels on SIGINT/SIGTERM so training stops cleanly at the
// next period boundary.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		log.Warn("interrupt received, finishing current period")
		cancel()
	}()
	return ctx
}

// buildStrategy assembles the whole training stack from a resolved config.
func buildStrategy(cfg config.Config) (training.Strategy, error) {
	ptb, err := config.ResolvePerturbation(cfg.Perturbation, cfg.Seed)
	if err != nil {
		return nil, err
	}
	policy, err := config.ResolvePolicy(cfg.Policy, ptb)
	if err != nil {
		return nil, err
	}
	outer, err := config.ResolveOptimizer(cfg.Outer)
	if err != nil {
		return nil, err
	}
	probs, err := config.ResolveProblems(cfg.Problems)
	if err != nil {
		return nil, err
	}
	valid, err := config.ResolveProblems(cfg.ValidationProblems)
	if err != nil {
		return nil, err
	}
	schedule, err := config.ResolveSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	teachers := config.ResolveTeachers(cfg.Teachers)
	var callbacks []training.StepCallback
	if teachers != nil {
		callbacks = append(callbacks, training.ImitationShareCallback{})
	}
	executor, err := training.NewExecutor(training.ExecutorConfig{
		Policy:          policy,
		Outer:           outer,
		Clipper:         config.ResolveClipper(cfg),
		Teachers:        teachers,
		Callbacks:       callbacks,
		Replicas:        cfg.Replicas,
		Reduction:       training.TeacherReduction(cfg.TeacherReduce),
		UseLogObjective: cfg.UseLogObjective,
		Seed:            cfg.Seed,
		Log:             logrus.NewEntry(log),
	})
	if err != nil {
		return nil, err
	}

	entry := logrus.NewEntry(log)
	switch cfg.Strategy.Kind {
	case "curriculum":
		return training.NewCurriculumStrategy(training.CurriculumConfig{
			Directory:        cfg.Directory,
			EpochsPerPeriod:  cfg.Strategy.EpochsPerPeriod,
			NumStages:        cfg.Strategy.NumStages,
			MaxRepeat:        cfg.Strategy.MaxRepeat,
			RepeatThreshold:  cfg.Strategy.RepeatThreshold,
			NumPeriods:       cfg.Strategy.NumPeriods,
			Improvement:      training.ImprovementPolicy(cfg.Strategy.Improvement),
			UnrollBase:       cfg.Strategy.Unroll,
			UnrollMultiplier: cfg.Strategy.UnrollMultiplier,
			WeightProfile:    training.WeightProfile(cfg.WeightProfile),
			Schedule:         schedule,
			ParamScale:       cfg.ParamScale,
			Seed:             cfg.Seed,
			ValidationSeed:   cfg.ValidationSeed,
		}, executor, probs, valid, entry)
	default:
		return training.NewSimpleStrategy(training.SimpleConfig{
			Directory:       cfg.Directory,
			EpochsPerPeriod: cfg.Strategy.EpochsPerPeriod,
			Unroll:          cfg.Strategy.Unroll,
			MaxPeriods:      cfg.Strategy.MaxPeriods,
			WeightProfile:   training.WeightProfile(cfg.WeightProfile),
			Schedule:        schedule,
			ParamScale:      cfg.ParamScale,
			Seed:            cfg.Seed,
			ValidationSeed:  cfg.ValidationSeed,
		}, executor, probs, valid, entry)
	}
}

func runTraining(ctx context.Context, cfg config.Config, periods int) error {
	strategy, err := buildStrategy(cfg)
	if err != nil {
		return err
	}
	if c, ok := strategy.(interface{ Close() error }); ok {
		defer c.Close()
	}
	// The run directory carries its exact configuration for later
	// evaluation and resumption.
	if err := config.Save(cfg, filepath.Join(cfg.Directory, runConfigFile)); err != nil {
		return err
	}

	ran := 0
	for !strategy.Done() {
		if ctx.Err() != nil {
			log.Info("stopping on interrupt")
			return nil
		}
		if periods > 0 && ran >= periods {
			log.WithField("periods", ran).Info("period cap reached")
			return nil
		}
		if err := strategy.Train(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info("stopping on interrupt")
				return nil
			}
			return err
		}
		ran++
	}
	log.WithField("periods", ran).Info("training complete")
	return nil
}

func runEvaluation(dir string, stage, period, unroll int, seed int64) error {
	cfg, err := config.Load(filepath.Join(dir, runConfigFile))
	if err != nil {
		return fmt.Errorf("run directory has no readable configuration: %w", err)
	}
	ptb, err := config.ResolvePerturbation(cfg.Perturbation, cfg.Seed)
	if err != nil {
		return err
	}
	policy, err := config.ResolvePolicy(cfg.Policy, ptb)
	if err != nil {
		return err
	}
	probs, err := config.ResolveProblems(cfg.ValidationProblems)
	if err != nil {
		return err
	}
	if len(probs) == 0 {
		probs, err = config.ResolveProblems(cfg.Problems)
		if err != nil {
			return err
		}
	}
	if unroll <= 0 {
		unroll = cfg.Strategy.Unroll
	}

	saver := checkpoints.NewCheckpointSaver(dir)
	path := saver.StagePath(stage, period)
	if cfg.Strategy.Kind == "simple" {
		path = saver.PeriodPath(period)
	}

	results, err := training.EvaluateCheckpoint(saver, path, policy, probs, unroll, seed)
	if err != nil {
		return err
	}
	for _, r := range results {
		log.WithFields(logrus.Fields{
			"problem":    r.Problem,
			"final_loss": r.FinalLoss,
			"mean_loss":  r.MeanLoss,
		}).Info("evaluated")
	}
	if recorded, ok := recordedValidationLoss(dir, cfg, stage, period); ok {
		log.WithField("recorded_validation_loss", recorded).Info("ledger row for this checkpoint")
	}
	log.WithField("results", path+".eval.json").Info("evaluation written")
	return nil
}

// recordedValidationLoss finds the validation loss the training run recorded
// for the evaluated checkpoint, so it can be compared with a fresh
// evaluation.
func recordedValidationLoss(dir string, cfg config.Config, stage, period int) (float64, bool) {
	if !training.SummaryExists(dir) {
		return 0, false
	}
	want := training.Row{"period": float64(period)}
	extra := []string{"period"}
	if cfg.Strategy.Kind == "curriculum" {
		want["stage"] = float64(stage)
		extra = []string{"stage", "repeat", "period"}
	}
	summary, err := training.OpenSummary(dir, cfg.Strategy.EpochsPerPeriod, extra)
	if err != nil {
		log.WithError(err).Warn("ledger unreadable, skipping comparison")
		return 0, false
	}
	defer summary.Close()
	row, ok := summary.Lookup(want)
	if !ok {
		return 0, false
	}
	return row["validation_loss"], true
}
