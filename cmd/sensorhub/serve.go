package sensorhub

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/gateway"
	"github.com/edgeflare/sensorhub/pkg/hook"
	"github.com/edgeflare/sensorhub/pkg/httputil"
	mw "github.com/edgeflare/sensorhub/pkg/httputil/middleware"
	"github.com/edgeflare/sensorhub/pkg/metrics"
	"github.com/edgeflare/sensorhub/pkg/sink"
	"github.com/edgeflare/sensorhub/pkg/store"
	"github.com/edgeflare/sensorhub/pkg/transport/httpapi"
	transportmqtt "github.com/edgeflare/sensorhub/pkg/transport/mqtt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Register built-in sink connectors
	_ "github.com/edgeflare/sensorhub/pkg/sink/clickhouse"
	_ "github.com/edgeflare/sensorhub/pkg/sink/debug"
	_ "github.com/edgeflare/sensorhub/pkg/sink/kafka"
	_ "github.com/edgeflare/sensorhub/pkg/sink/mqtt"
	_ "github.com/edgeflare/sensorhub/pkg/sink/nats"
	_ "github.com/edgeflare/sensorhub/pkg/sink/webhook"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Run the gateway",
	Long: `Run the gateway: the HTTP, WebSocket and SSE listener, the optional MQTT
adapter, the record store, the hook pipeline, outbound sinks and the metrics server.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("listen", "l", "", "HTTP listen address")
	f.StringP("store", "s", "", "record store driver (memory, redis, postgres)")
	f.Bool("mqtt", false, "subscribe to the MQTT broker")
	f.StringSlice("mqtt-server", nil, "MQTT broker URL, repeatable")
	f.Bool("retained-only", false, "store only retained MQTT messages; relay the rest")
	f.Bool("metrics", true, "serve prometheus metrics")
	f.String("metrics-addr", "", "metrics listen address")

	v.BindPFlag("server.listenAddr", f.Lookup("listen"))
	v.BindPFlag("store.driver", f.Lookup("store"))
	v.BindPFlag("mqtt.enabled", f.Lookup("mqtt"))
	v.BindPFlag("mqtt.servers", f.Lookup("mqtt-server"))
	v.BindPFlag("mqtt.retainedOnly", f.Lookup("retained-only"))
	v.BindPFlag("metrics.enabled", f.Lookup("metrics"))
	v.BindPFlag("metrics.addr", f.Lookup("metrics-addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Logger: logger.Named("metrics"),
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
		})
	}

	st, err := store.Open(ctx, cfg.Store, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	hooks := hook.NewManager()
	hooks.RegisterBuiltins()
	pipeline, err := hooks.Chain(cfg.Hooks)
	if err != nil {
		return fmt.Errorf("failed to build hooks: %w", err)
	}

	sinks := sink.NewManager(logger.Named("sink"))
	if err := sinks.Init(ctx, cfg.Sinks); err != nil {
		return fmt.Errorf("failed to initialize sinks: %w", err)
	}
	defer sinks.Close()
	sinks.Start(ctx, &wg)

	gw := gateway.New(gateway.Options{
		Store:        st,
		Broker:       broker.New(cfg.Broker, logger.Named("broker")),
		Hooks:        pipeline,
		Sinks:        sinks,
		Logger:       logger.Named("gateway"),
		DefaultTable: cfg.Server.DefaultTable,
	})

	if cfg.MQTT.Enabled {
		adapter := transportmqtt.New(gw, cfg.MQTT, logger.Named("mqtt"))
		if err := adapter.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mqtt adapter: %w", err)
		}
		defer adapter.Stop()
	}

	r := httputil.NewRouter(
		httputil.WithLogger(logger),
		httputil.WithTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile),
	)
	r.Use(mw.RequestID, mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger.Named("http")}), mw.CORSWithOptions(nil))
	r.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	var auth []httputil.Middleware
	if len(cfg.Server.BasicAuth) > 0 {
		auth = append(auth, mw.VerifyBasicAuth(mw.BasicAuthCreds(cfg.Server.BasicAuth)))
	}
	httpapi.New(gw, httpapi.Options{
		Logger:         logger.Named("http"),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		KeepAlive:      cfg.Server.KeepAlive,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}).Register(r, auth...)

	errChan := make(chan error, 1)
	go func() {
		errChan <- r.ListenAndServe(cfg.Server.ListenAddr)
	}()

	logger.Info("gateway started",
		zap.String("addr", cfg.Server.ListenAddr),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("mqtt", cfg.MQTT.Enabled),
		zap.Strings("sinks", sinks.Names()))

	select {
	case <-ctx.Done():
		logger.Info("received termination signal, shutting down gracefully")
	case err := <-errChan:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out", zap.Duration("timeout", shutdownTimeout))
	}
	return nil
}
