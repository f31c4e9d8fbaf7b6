package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	shapefile "github.com/tingold/orb-shapefile"
)

func main() {
	var (
		shp      string
		addr     string
		pageSize int
	)

	flag.StringVar(&shp, "shp", "", "Shapefile to serve (.shp path or base name)")
	flag.StringVar(&addr, "addr", ":8080", "HTTP listen address")
	flag.IntVar(&pageSize, "page-size", 1000, "Default and maximum number of GeoJSON features per response")
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	if shp == "" {
		fmt.Fprintf(os.Stderr, "error: -shp must be specified\n")
		flag.Usage()
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	opts := shapefile.DefaultOptions()
	opts.Logger = logger
	opts.Registerer = reg
	opts.BuildIndex = true

	src, err := shapefile.Open(afero.NewOsFs(), shp, opts)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open shapefile", "path", shp, "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := src.Close(); err != nil {
			level.Error(logger).Log("msg", "close error", "err", err)
		}
	}()
	level.Info(logger).Log("msg", "serving shapefile", "path", shp, "type", src.ShapeType(), "features", src.Count())

	mux := http.NewServeMux()
	newHandler(src, pageSize, logger).register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		level.Info(logger).Log("msg", "received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	level.Info(logger).Log("msg", "server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		level.Error(logger).Log("msg", "server error", "err", err)
		os.Exit(1)
	}
}
