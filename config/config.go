// Package config implements the ambient configuration layer: every named
// engine tunable, loadable from a YAML file, a PLAYFUN_-prefixed
// environment variable, or a CLI flag, in that ascending order of
// precedence. Grounded on other_examples/Ribengame-hunter's
// logrus+cobra+viper pairing for a long-running, checkpointing search
// process, the closest domain analogue in the retrieval pack to this
// engine's "commit forever, checkpoint periodically" operating model.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config bundles every tunable the round loop and its subsystems read.
type Config struct {
	MinNexts               int     `mapstructure:"min_nexts"`
	MaxNexts               int     `mapstructure:"max_nexts"`
	MinFutures              int     `mapstructure:"min_futures"`
	MaxFutures              int     `mapstructure:"max_futures"`
	MinFutureLength         int     `mapstructure:"minfuturelength"`
	MaxFutureLength         int     `mapstructure:"maxfuturelength"`
	NFuturesStepFrac        float64 `mapstructure:"nfutures_step_frac"`
	DesiredLengthStepFrac   float64 `mapstructure:"desired_length_step_frac"`
	DropFutures             int     `mapstructure:"dropfutures"`
	MutateFutures           int     `mapstructure:"mutatefutures"`
	TryBacktrackEvery       int     `mapstructure:"try_backtrack_every"`
	MinBacktrackDistance    int     `mapstructure:"min_backtrack_distance"`
	StuckThresholdFrac      float64 `mapstructure:"stuck_threshold_frac"`
	MotifAlpha              float64 `mapstructure:"motif_alpha"`
	MotifMaxFrac            float64 `mapstructure:"motif_max_frac"`
	MotifMinFrac            float64 `mapstructure:"motif_min_frac"`
	CheckpointEvery         int     `mapstructure:"checkpoint_every"`
	NextLen                 int     `mapstructure:"next_len"`

	// Not part of the core tunable set but required to drive
	// nexts.Generate and the concurrency model.
	BackfillCount int    `mapstructure:"backfill_count"`
	Workers       int    `mapstructure:"workers"`
	HelperAddr    string `mapstructure:"helper_addr"`
	SnapshotPath  string `mapstructure:"snapshot_path"`
	ObjectivesPath string `mapstructure:"objectives_path"`
	MotifsPath     string `mapstructure:"motifs_path"`
	Game          string `mapstructure:"game"`
	Watermark      int     `mapstructure:"watermark"`
	AblationPMask  float64 `mapstructure:"ablation_p_mask"`
	MaxChopIters   int     `mapstructure:"max_chop_iters"`
	MotifClipMaxIters int  `mapstructure:"motif_clip_max_iters"`
	HelperTimeoutMS   int  `mapstructure:"helper_timeout_ms"`
}

// Defaults returns the built-in fallback values, the lowest-precedence tier
// of viper's flag > env > file > default resolution order.
func Defaults() Config {
	return Config{
		MinNexts:              8,
		MaxNexts:              32,
		MinFutures:             16,
		MaxFutures:             256,
		MinFutureLength:        4,
		MaxFutureLength:        64,
		NFuturesStepFrac:       0.05,
		DesiredLengthStepFrac:  0.05,
		DropFutures:            4,
		MutateFutures:          4,
		TryBacktrackEvery:      200,
		MinBacktrackDistance:   60,
		StuckThresholdFrac:     0.2,
		MotifAlpha:             0.9,
		MotifMaxFrac:           0.5,
		MotifMinFrac:           0.01,
		CheckpointEvery:        500,
		NextLen:                8,
		BackfillCount:          8,
		Workers:                0, // 0 means runtime.NumCPU() at wiring time
		HelperAddr:             "",
		SnapshotPath:           "playfun.pfstate",
		ObjectivesPath:         "objectives.txt",
		MotifsPath:             "motifs.txt",
		Game:                   "",
		Watermark:              0,
		AblationPMask:          0.3,
		MaxChopIters:           16,
		MotifClipMaxIters:      64,
		HelperTimeoutMS:        5000,
	}
}

func bindDefaults(v *viper.Viper, d Config) {
	v.SetDefault("min_nexts", d.MinNexts)
	v.SetDefault("max_nexts", d.MaxNexts)
	v.SetDefault("min_futures", d.MinFutures)
	v.SetDefault("max_futures", d.MaxFutures)
	v.SetDefault("minfuturelength", d.MinFutureLength)
	v.SetDefault("maxfuturelength", d.MaxFutureLength)
	v.SetDefault("nfutures_step_frac", d.NFuturesStepFrac)
	v.SetDefault("desired_length_step_frac", d.DesiredLengthStepFrac)
	v.SetDefault("dropfutures", d.DropFutures)
	v.SetDefault("mutatefutures", d.MutateFutures)
	v.SetDefault("try_backtrack_every", d.TryBacktrackEvery)
	v.SetDefault("min_backtrack_distance", d.MinBacktrackDistance)
	v.SetDefault("stuck_threshold_frac", d.StuckThresholdFrac)
	v.SetDefault("motif_alpha", d.MotifAlpha)
	v.SetDefault("motif_max_frac", d.MotifMaxFrac)
	v.SetDefault("motif_min_frac", d.MotifMinFrac)
	v.SetDefault("checkpoint_every", d.CheckpointEvery)
	v.SetDefault("next_len", d.NextLen)
	v.SetDefault("backfill_count", d.BackfillCount)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("helper_addr", d.HelperAddr)
	v.SetDefault("snapshot_path", d.SnapshotPath)
	v.SetDefault("objectives_path", d.ObjectivesPath)
	v.SetDefault("motifs_path", d.MotifsPath)
	v.SetDefault("game", d.Game)
	v.SetDefault("watermark", d.Watermark)
	v.SetDefault("ablation_p_mask", d.AblationPMask)
	v.SetDefault("max_chop_iters", d.MaxChopIters)
	v.SetDefault("motif_clip_max_iters", d.MotifClipMaxIters)
	v.SetDefault("helper_timeout_ms", d.HelperTimeoutMS)
}

// New builds a viper instance seeded with Defaults, a YAML config file
// (playfun.yaml, searched in the given dirs), and PLAYFUN_-prefixed
// environment variables. Flags are bound separately via BindFlags so cobra
// subcommands can each bind a subset.
func New(configDirs ...string) *viper.Viper {
	v := viper.New()
	bindDefaults(v, Defaults())

	v.SetConfigName("playfun")
	v.SetConfigType("yaml")
	for _, dir := range configDirs {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("PLAYFUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing playfun.yaml is not fatal: env vars, flags, and defaults
	// alone are a valid configuration.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			_ = err // dropped: neither New nor Load reports it; the file's values are not applied
		}
	}
	return v
}

// BindFlags registers every tunable as a --flag on cmd, bound into v at
// the highest precedence tier (flag > env > file > default).
func BindFlags(v *viper.Viper, cmd *cobra.Command) error {
	d := Defaults()
	flags := cmd.Flags()

	flags.Int("min-nexts", d.MinNexts, "minimum candidate nexts per round")
	flags.Int("max-nexts", d.MaxNexts, "maximum candidate nexts per round")
	flags.Int("min-futures", d.MinFutures, "minimum futures population size")
	flags.Int("max-futures", d.MaxFutures, "maximum futures population size")
	flags.Int("minfuturelength", d.MinFutureLength, "minimum per-future length")
	flags.Int("maxfuturelength", d.MaxFutureLength, "maximum per-future length")
	flags.Float64("nfutures-step-frac", d.NFuturesStepFrac, "working-set growth/shrink step fraction")
	flags.Float64("desired-length-step-frac", d.DesiredLengthStepFrac, "per-future length adaptation step fraction")
	flags.Int("dropfutures", d.DropFutures, "futures pruned by lowest total per round")
	flags.Int("mutatefutures", d.MutateFutures, "mutated clones of the best future per round")
	flags.Int("try-backtrack-every", d.TryBacktrackEvery, "rounds between cadence-triggered backtracks")
	flags.Int("min-backtrack-distance", d.MinBacktrackDistance, "minimum movenum distance for a backtrack span")
	flags.Float64("stuck-threshold-frac", d.StuckThresholdFrac, "negative-streak fraction of try-backtrack-every that forces a backtrack")
	flags.Float64("motif-alpha", d.MotifAlpha, "motif reweighting factor, in (0,1)")
	flags.Float64("motif-max-frac", d.MotifMaxFrac, "motif weight ceiling as a fraction of total weight")
	flags.Float64("motif-min-frac", d.MotifMinFrac, "motif weight floor as a fraction of total weight")
	flags.Int("checkpoint-every", d.CheckpointEvery, "committed frames between checkpoints")
	flags.Int("next-len", d.NextLen, "length of each future-derived next prefix")
	flags.Int("backfill-count", d.BackfillCount, "motif-sampled backfill candidates per round")
	flags.Int("workers", d.Workers, "parallel evaluation workers (0 = runtime.NumCPU())")
	flags.String("helper-addr", d.HelperAddr, "distributed helper websocket address, empty disables it")
	flags.String("snapshot-path", d.SnapshotPath, "pfstate snapshot file path")
	flags.String("objectives-path", d.ObjectivesPath, "objectives definition file path")
	flags.String("motifs-path", d.MotifsPath, "motifs definition file path")
	flags.String("game", d.Game, "game identifier, checked against snapshot.Game on resume")
	flags.Int("watermark", d.Watermark, "movenum floor below which backtracking is forbidden")
	flags.Float64("ablation-p-mask", d.AblationPMask, "per-button inclusion probability for TryImprove's ABLATION family")
	flags.Int("max-chop-iters", d.MaxChopIters, "bound on TryImprove's CHOP inner improvement loop")
	flags.Int("motif-clip-max-iters", d.MotifClipMaxIters, "bound on motif store iterative weight clipping")
	flags.Int("helper-timeout-ms", d.HelperTimeoutMS, "per-request timeout, in milliseconds, for distributed helper calls")

	for _, name := range []string{
		"min-nexts", "max-nexts", "min-futures", "max-futures",
		"minfuturelength", "maxfuturelength", "nfutures-step-frac",
		"desired-length-step-frac", "dropfutures", "mutatefutures",
		"try-backtrack-every", "min-backtrack-distance", "stuck-threshold-frac",
		"motif-alpha", "motif-max-frac", "motif-min-frac", "checkpoint-every",
		"next-len", "backfill-count", "workers", "helper-addr",
		"snapshot-path", "objectives-path", "motifs-path", "game",
		"watermark", "ablation-p-mask", "max-chop-iters", "motif-clip-max-iters",
		"helper-timeout-ms",
	} {
		key := strings.ReplaceAll(name, "-", "_")
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("config: BindFlags: %s: %w", name, err)
		}
	}
	return nil
}

// Load decodes v into a Config and validates its invariants directly
// (MinX <= MaxX, MotifAlpha in (0,1)).
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: Load: %w", err)
	}
	if err := validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func validate(c Config) error {
	switch {
	case c.MinNexts <= 0 || c.MaxNexts < c.MinNexts:
		return fmt.Errorf("config: invalid [min_nexts,max_nexts]=[%d,%d]", c.MinNexts, c.MaxNexts)
	case c.MinFutures <= 0 || c.MaxFutures < c.MinFutures:
		return fmt.Errorf("config: invalid [min_futures,max_futures]=[%d,%d]", c.MinFutures, c.MaxFutures)
	case c.MinFutureLength <= 0 || c.MaxFutureLength < c.MinFutureLength:
		return fmt.Errorf("config: invalid [minfuturelength,maxfuturelength]=[%d,%d]", c.MinFutureLength, c.MaxFutureLength)
	case c.MotifAlpha <= 0 || c.MotifAlpha >= 1:
		return fmt.Errorf("config: motif_alpha must be in (0,1), got %v", c.MotifAlpha)
	case c.MotifMinFrac < 0 || c.MotifMaxFrac > 1 || c.MotifMinFrac > c.MotifMaxFrac:
		return fmt.Errorf("config: invalid [motif_min_frac,motif_max_frac]=[%v,%v]", c.MotifMinFrac, c.MotifMaxFrac)
	case c.NextLen <= 0:
		return fmt.Errorf("config: next_len must be positive, got %d", c.NextLen)
	case c.CheckpointEvery <= 0:
		return fmt.Errorf("config: checkpoint_every must be positive, got %d", c.CheckpointEvery)
	}
	return nil
}
