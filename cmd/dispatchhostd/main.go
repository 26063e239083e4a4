// Command dispatchhostd is the single binary for both roles described by
// the core's process interface: invoked as `dispatchhostd --worker` it
// runs the worker loop; invoked any other way it runs the host.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/handika51/dispatchcore/config"
	"github.com/handika51/dispatchcore/host"
	"github.com/handika51/dispatchcore/logging"
	"github.com/handika51/dispatchcore/worker"
	"github.com/handika51/dispatchcore/xcmd"
)

var cmd Cmd

// Cmd is the command line arguments for host mode.
type Cmd struct {
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "dispatchhostd",
	Short: "Task-dispatch host for text/audio worker processes",
	Run: func(_ *cobra.Command, args []string) {
		// A "--worker" invocation is dispatched by main before cobra
		// parses flags, so this branch is not reached for it.
		if len(os.Args) > 1 && os.Args[1] == "--worker" {
			if err := runWorker(); err != nil {
				fmt.Printf("ERROR: %v\n", err)
				os.Exit(1)
			}
			return
		}

		if err := runHost(cmd); err != nil {
			var interrupted xcmd.Interrupted
			if errors.As(err, &interrupted) {
				return
			}
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (built-in defaults when omitted)")
}

func main() {
	// The process interface is argv[1] == "--worker", checked
	// ahead of cobra's own flag parsing so a worker invocation
	// never needs a config file.
	if len(os.Args) > 1 && os.Args[1] == "--worker" {
		if err := runWorker(); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func runWorker() error {
	log, _, err := logging.Init(logging.Config{Level: zapcore.InfoLevel})
	if err != nil {
		return err
	}
	defer log.Sync()

	loop := worker.New(worker.WithLog(log))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return loop.Run(ctx, textAndMelKernel{})
}

// textAndMelKernel composes the two reference kernels the core ships:
// deterministic text reversal for TEXT_PROCESS, the mock mel-spectrogram
// stand-in for AUDIO_PROCESS. A real deployment replaces this with a
// GPU-backed Kernel without touching WorkerLoop.
type textAndMelKernel struct{}

func (textAndMelKernel) Text(in []byte) ([]byte, uint32) {
	return worker.TextReverseKernel{}.Text(in)
}

func (textAndMelKernel) Audio(sampleRate uint32, samples []float32) ([]float32, uint32) {
	return worker.MockMelKernel{}.Audio(sampleRate, samples)
}

func runHost(cmd Cmd) error {
	var cfg *config.Config
	var err error
	if cmd.ConfigPath != "" {
		cfg, err = config.Load(cmd.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	log, _, err := logging.Init(logging.Config{Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	defer log.Sync()

	execPath := cfg.ExecPath
	if execPath == "" {
		execPath, err = os.Executable()
		if err != nil {
			return fmt.Errorf("failed to resolve self path: %w", err)
		}
	}

	h := host.New(host.Config{
		Workers:         cfg.Workers,
		ExecPath:        execPath,
		Names:           cfg.Names.ToShmNames(),
		WatchdogLogSize: cfg.WatchdogLogSize,
	}, host.WithLog(log))

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return h.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}
