package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/elabmate/internal/watcher"
	"github.com/ajitpratap0/elabmate/pkg/bridge"
	elaberrors "github.com/ajitpratap0/elabmate/pkg/errors"
	"github.com/ajitpratap0/elabmate/pkg/logger"
	"github.com/ajitpratap0/elabmate/pkg/metrics"
)

type watchOptions struct {
	dir         string
	extension   string
	debounce    time.Duration
	metricsAddr string
}

func (a *app) watchCommand() *cobra.Command {
	o := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror new Labmate acquisitions into eLabFTW",
		Long: `Watch the Labmate data directory and save every new acquisition as a
snapshot of the experiment named after its folder.

The directory defaults to LABMATE_DATA_DIR from the configuration file.

Example:
  elabmate watch --metrics-addr :9102`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVar(&o.dir, "dir", "", "Labmate data directory (overrides LABMATE_DATA_DIR)")
	cmd.Flags().StringVar(&o.extension, "extension", bridge.DataExtension, "Data file extension")
	cmd.Flags().DurationVar(&o.debounce, "debounce", watcher.DefaultDebounce, "Quiet period before an acquisition is saved")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102")
	return cmd
}

func (a *app) runWatch(ctx context.Context, o *watchOptions) error {
	ctx = logger.ContextWithCommand(ctx, "watch")
	log := logger.FromContext(ctx, a.log)

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	dir := o.dir
	if dir == "" {
		dir = cfg.LabmateDataDir
	}
	if dir == "" {
		return elaberrors.New(elaberrors.ErrorTypeConfig, "no Labmate data directory: set LABMATE_DATA_DIR or pass --dir")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	client, err := a.client(log, collector)
	if err != nil {
		return err
	}
	defer client.Close()

	b := bridge.New(client, bridge.WithLogger(log), bridge.WithMetrics(collector))
	w, err := watcher.New(dir, b,
		watcher.WithDebounce(o.debounce),
		watcher.WithExtension(o.extension),
		watcher.WithLogger(log))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(ctx)
	})

	if o.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{
			Addr:              o.metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", o.metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return elaberrors.Wrap(err, elaberrors.ErrorTypeConnection, "metrics server failed")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("watching", zap.String("dir", dir))
	return g.Wait()
}
