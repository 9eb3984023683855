// Command tracering-emitter attaches to an existing tracering shared ring
// and emits synthetic nested begin/end events from several concurrent
// goroutines, for manual testing of the receiver and adapter without a
// real instrumented application.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	tconfig "github.com/yanet-platform/tracering/config"
	"github.com/yanet-platform/tracering/emitter"
	"github.com/yanet-platform/tracering/internal/logging"
	"github.com/yanet-platform/tracering/internal/xcmd"
)

var cmd struct {
	ConfigPath string
	Producers  int
	Labels     []string
}

var rootCmd = &cobra.Command{
	Use:   "tracering-emitter",
	Short: "Attach to the tracering shared ring and emit synthetic spans",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(cmd.ConfigPath, cmd.Producers, cmd.Labels)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "path to the configuration file (required)")
	rootCmd.Flags().IntVar(&cmd.Producers, "producers", 4, "number of concurrent producer goroutines")
	rootCmd.Flags().StringSliceVar(&cmd.Labels, "labels", []string{"handle_request", "query_db", "render"}, "nested call-path labels to emit, outermost first")
	_ = rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, producers int, labels []string) error {
	cfg, err := tconfig.Load(configPath)
	if err != nil {
		return err
	}

	log, _, err := logging.Init(cfg.Logging, "tracering-emitter")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := xcmd.NotifyContext(context.Background())
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < producers; i++ {
		i := i
		g.Go(func() error {
			return produce(gctx, log, i, labels, cfg)
		})
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	log.Info("all producers stopped")
	return nil
}

func produce(ctx context.Context, log *zap.SugaredLogger, id int, labels []string, cfg *tconfig.Config) error {
	log = log.Named(fmt.Sprintf("producer-%d", id))

	em := emitter.New()
	if err := em.Attach(ctx, emitter.Config{
		Name:           cfg.ShmName,
		K:              cfg.RingExponent,
		AllowOverwrite: cfg.AllowOverwrite,
	}); err != nil {
		return fmt.Errorf("producer %d: attach: %w", id, err)
	}
	defer func() {
		if err := em.Shutdown(); err != nil {
			log.Warnw("producer shutdown reported an error", zap.Error(err))
		}
	}()

	log.Info("producer attached")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		for _, label := range labels {
			em.Begin(label)
		}
		time.Sleep(time.Duration(1+rand.Intn(5)) * time.Millisecond)
		for i := len(labels) - 1; i >= 0; i-- {
			em.End(labels[i])
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(5+rand.Intn(20)) * time.Millisecond):
		}
	}
}
