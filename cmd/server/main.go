// Command server runs the group-buy coordinator: Connect RPC services for
// orders and payments, the gateway webhook endpoint, Prometheus metrics and
// the periodic deadline sweep.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/auth"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/config"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/dispatch"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/gateway"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/middleware"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/notify"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/rpc"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/service"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/storage/sqlite"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/webhook"
	"github.com/Nikhil170404/hyperlocal-sub001/pkg/logging"
)

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("database ready", "path", cfg.DBPath)

	if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
		slog.Warn("gateway credentials not configured; payment operations will fail")
	}
	gw := gateway.NewRazorpay(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)

	var (
		sinks     []notify.Sink
		kafkaSink *notify.KafkaSink
	)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, kafkaSink)
		slog.Info("notifications via kafka", "topic", cfg.KafkaTopic)
	} else {
		sinks = append(sinks, notify.SlogSink{})
		slog.Info("notifications via log sink")
	}
	dispatcher := dispatch.New(cfg.DispatchTimeout, sinks...)

	opts := service.Options{
		CollectingWindow: cfg.CollectingWindow,
		PaymentWindow:    cfg.PaymentWindow,
		GatewayTimeout:   cfg.GatewayTimeout,
	}
	orders := service.NewOrderService(store, gw, dispatcher, opts)
	payments := service.NewPaymentService(store, gw, dispatcher, service.GatewaySecrets{
		KeySecret:     cfg.RazorpayKeySecret,
		WebhookSecret: cfg.RazorpayWebhookSecret,
	}, cfg.DefaultCurrency, opts)

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	interceptors := connect.WithInterceptors(
		middleware.LoggingInterceptor(),
		middleware.RequireAuth(jwtManager),
	)

	mux := http.NewServeMux()
	mux.Handle(rpc.NewOrderServiceHandler(orders, interceptors))
	mux.Handle(rpc.NewPaymentServiceHandler(payments, cfg.RazorpayKeyID, interceptors))
	mux.Handle("/webhooks/payment", webhook.Handler(payments))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.SweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		orders.Sweep(ctx)
	}); err != nil {
		slog.Error("invalid sweep schedule", "spec", cfg.SweepSpec, "error", err)
		os.Exit(1)
	}
	sched.Start()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		// h2c lets Connect clients use HTTP/2 without TLS behind the proxy.
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	sched.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	dispatcher.Wait()
	if kafkaSink != nil {
		_ = kafkaSink.Close()
	}
}
