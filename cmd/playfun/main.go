// Command playfun drives the search-and-commit engine against an emulator.
//
// The real emulator core (ROM loading, input devices, the NES/console
// itself) is an external collaborator out of scope for this module; this
// binary ships only emu.Fake as a concrete backend, the same deterministic
// in-memory stand-in every package's tests already use.
// A production deployment plugs in a real emu.Cloner implementation in
// place of newBackend below.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	playfun "github.com/sw965/playfun"
	"github.com/sw965/playfun/config"
	"github.com/sw965/playfun/emu"
	"github.com/sw965/playfun/helper"
	"github.com/sw965/playfun/motif"
	"github.com/sw965/playfun/objective"
	"github.com/sw965/playfun/pfstate"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "playfun",
		Short: "Self-directed search engine that plays a video game by learning from example play",
	}
	root.AddCommand(runCmd(), resumeCmd(), inspectCmd())
	return root
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

// newBackend returns the emulator backend the engine drives. --mem-size
// sizes emu.Fake's memory vector; a real deployment replaces this whole
// function with its own emu.Cloner.
func newBackend(cmd *cobra.Command) (emu.Cloner, error) {
	memSize, err := cmd.Flags().GetInt("mem-size")
	if err != nil {
		return nil, err
	}
	return emu.NewFake(memSize), nil
}

func dialHelpers(log *logrus.Logger, addr string) []*helper.Client {
	if addr == "" {
		return nil
	}
	var clients []*helper.Client
	for _, a := range strings.Split(addr, ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		c, err := helper.Dial(a)
		if err != nil {
			// Logged, not surfaced; the engine runs purely local if none
			// dial successfully.
			log.WithError(err).WithField("addr", a).Warn("helper unavailable, will run locally")
			continue
		}
		clients = append(clients, c)
	}
	return clients
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().Int("mem-size", 256, "emu.Fake memory vector size")
}

func loadObjectivesAndMotifs(cfg config.Config) (objective.Set, []motif.Motif, error) {
	objectives, err := objective.ParseFile(cfg.ObjectivesPath)
	if err != nil {
		// Fatal at startup: without objectives the engine has nothing to score.
		return nil, nil, fmt.Errorf("fatal: %w", err)
	}
	motifs, err := motif.ParseFile(cfg.MotifsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("fatal: %w", err)
	}
	return objectives, motifs, nil
}

// runWithSignals drives e until SIGINT/SIGTERM, checkpointing one final
// time on the way out.
func runWithSignals(log *logrus.Logger, cfg config.Config, e *playfun.Engine) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("signal received, finishing current round and saving")
		cancel()
	}()

	err := e.Run(ctx, func(round int) {
		if round%50 == 0 {
			log.WithField("round", round).Info("progress")
		}
	})
	if err != nil && err != context.Canceled {
		log.WithError(err).Error("run failed")
	}
	if saveErr := e.SaveFile(cfg.SnapshotPath); saveErr != nil {
		log.WithError(saveErr).Error("final save failed")
		return saveErr
	}
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine, resuming from a snapshot if one is present, else starting cold",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := config.New()
			if err := config.BindFlags(v, cmd); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			log := newLogger()

			backend, err := newBackend(cmd)
			if err != nil {
				return err
			}
			objectives, motifs, err := loadObjectivesAndMotifs(cfg)
			if err != nil {
				return err
			}
			clients := dialHelpers(log, cfg.HelperAddr)

			state, ok, err := pfstate.LoadOrCold(cfg.SnapshotPath, cfg.Game, func(err error) {
				log.WithError(err).Warn("snapshot corrupt or mismatched, warming up from cold")
			})
			if err != nil {
				return err
			}

			var e *playfun.Engine
			if ok {
				e, err = playfun.Resume(cfg, log, backend, objectives, state, clients)
			} else {
				e, err = playfun.New(cfg, log, backend, objectives, motifs, []byte(cfg.Game), clients)
			}
			if err != nil {
				return err
			}

			return runWithSignals(log, cfg, e)
		},
	}
	addCommonFlags(cmd)
	return cmd
}

func resumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume from an existing snapshot, failing if none is present",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := config.New()
			if err := config.BindFlags(v, cmd); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			log := newLogger()

			backend, err := newBackend(cmd)
			if err != nil {
				return err
			}
			objectives, _, err := loadObjectivesAndMotifs(cfg)
			if err != nil {
				return err
			}
			clients := dialHelpers(log, cfg.HelperAddr)

			f, err := os.Open(cfg.SnapshotPath)
			if err != nil {
				return fmt.Errorf("resume: no snapshot at %s: %w", cfg.SnapshotPath, err)
			}
			state, err := pfstate.Load(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("resume: %w", err)
			}

			e, err := playfun.Resume(cfg, log, backend, objectives, state, clients)
			if err != nil {
				return err
			}
			return runWithSignals(log, cfg, e)
		},
	}
	addCommonFlags(cmd)
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <snapshot-path>",
		Short: "Print a pfstate snapshot's header without running the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			state, err := pfstate.Load(f)
			if err != nil {
				return err
			}
			fmt.Printf("game:            %s\n", state.Game)
			fmt.Printf("watermark:       %d\n", state.Watermark)
			fmt.Printf("movie length:    %d frames\n", len(state.MovieInputs))
			fmt.Printf("subtitles:       %d\n", len(state.Subtitles))
			fmt.Printf("memories:        %d\n", len(state.Memories))
			fmt.Printf("checkpoint at:   movenum %d (%d savestate bytes)\n", state.LatestCheckpoint.Movenum, len(state.LatestCheckpoint.Savestate))
			fmt.Printf("motifs:          %d\n", len(state.MotifWeights))
			fmt.Printf("nfutures:        %d\n", state.NFutures)
			fmt.Printf("rng state bytes: %d\n", len(state.RNGState))
			return nil
		},
	}
}
