// Command tracering-consumer runs the receiver and stack-trace adapter,
// printing delivered spans (and, optionally, raw events) to stderr. It is
// the reference consumer for manual testing of the shared ring; the
// CLI/GUI visualization tools a real deployment would use are out of this
// fabric's scope.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yanet-platform/tracering/adapter"
	tconfig "github.com/yanet-platform/tracering/config"
	"github.com/yanet-platform/tracering/event"
	"github.com/yanet-platform/tracering/internal/logging"
	"github.com/yanet-platform/tracering/internal/xcmd"
	"github.com/yanet-platform/tracering/receiver"
)

var cmd struct {
	ConfigPath  string
	PrintEvents bool
}

var rootCmd = &cobra.Command{
	Use:   "tracering-consumer",
	Short: "Poll the tracering shared ring and print delivered spans",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(cmd.ConfigPath, cmd.PrintEvents)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "path to the configuration file (required)")
	rootCmd.Flags().BoolVar(&cmd.PrintEvents, "print-events", false, "also print raw events as they are delivered")
	_ = rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, printEvents bool) error {
	cfg, err := tconfig.Load(configPath)
	if err != nil {
		return err
	}

	log, _, err := logging.Init(cfg.Logging, "tracering-consumer")
	if err != nil {
		return err
	}
	defer log.Sync()

	var labelGlob glob.Glob
	if cfg.LabelFilter != "" {
		labelGlob, err = glob.Compile(cfg.LabelFilter)
		if err != nil {
			return fmt.Errorf("compile label_filter %q: %w", cfg.LabelFilter, err)
		}
	}
	matches := func(label string) bool {
		return labelGlob == nil || labelGlob.Match(label)
	}

	rcv := receiver.New()
	if err := rcv.Init(receiver.Config{
		Name:            cfg.ShmName,
		K:               cfg.RingExponent,
		AllowOverwrite:  cfg.AllowOverwrite,
		Workers:         cfg.Workers,
		HandlerCapacity: cfg.HandlerCapacity,
	}); err != nil {
		return fmt.Errorf("init receiver: %w", err)
	}
	defer func() {
		if err := rcv.Shutdown(); err != nil {
			log.Warnw("receiver shutdown reported errors", zap.Error(err))
		}
	}()

	if printEvents {
		if err := rcv.RegisterHandler(func(e *event.Event) {
			label := e.LabelString()
			if !matches(label) {
				return
			}
			log.Infow("event", zap.Uint64("ts", e.Timestamp), zap.Uint32("tid", e.ThreadID), zap.String("label", label))
		}); err != nil {
			return fmt.Errorf("register event handler: %w", err)
		}
	}

	a := adapter.New()
	if err := a.Init(rcv); err != nil {
		return fmt.Errorf("init adapter: %w", err)
	}
	defer func() {
		if err := a.Shutdown(); err != nil {
			log.Warnw("adapter shutdown reported errors", zap.Error(err))
		}
	}()

	if err := a.RegisterSpanHandler(func(s *event.Span) {
		path := s.FullPathString()
		if !matches(path) {
			return
		}
		log.Infow("span", zap.String("path", path), zap.Uint64("start", s.StartTimestamp), zap.Uint64("end", s.EndTimestamp), zap.Uint32("tid", s.ThreadID), zap.Duration("duration", s.Duration()))
	}); err != nil {
		return fmt.Errorf("register span handler: %w", err)
	}

	ctx, stop := xcmd.NotifyContext(context.Background())
	defer stop()

	log.Infow("polling shared ring", zap.String("shm", cfg.ShmName))

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
			rcv.Poll()
		}
	}
}
