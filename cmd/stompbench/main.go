// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/absmach/stompbench/config"
	"github.com/absmach/stompbench/dispatch"
	"github.com/absmach/stompbench/frame"
	"github.com/absmach/stompbench/loadgen"
	"github.com/absmach/stompbench/metrics"
	"github.com/absmach/stompbench/transport"
)

// lifecycle is the surface shared by producers and consumers.
type lifecycle interface {
	Start()
	Shutdown()
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	tlsConfig, err := brokerTLS(cfg.Broker)
	if err != nil {
		slog.Error("Failed to build TLS configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting STOMP load harness",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"websocket", cfg.Broker.WSEnabled,
		"tls", cfg.Broker.TLSEnabled,
		"producers", cfg.Producers.Count,
		"consumers", cfg.Consumers.Count,
		"log_level", cfg.Log.Level)

	baseOpts := transport.Options{
		Host:           cfg.Broker.Host,
		Port:           cfg.Broker.Port,
		Login:          cfg.Broker.Login,
		Passcode:       cfg.Broker.Passcode,
		Vhost:          cfg.Broker.Vhost,
		TLSConfig:      tlsConfig,
		WebSocket:      cfg.Broker.WSEnabled,
		WSPath:         cfg.Broker.WSPath,
		ConnectTimeout: cfg.Broker.ConnectTimeout,
	}
	dialer := loadgen.NewTransportDialer(baseOpts)

	workers := cfg.Run.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	pool := dispatch.NewPool(workers)
	defer pool.Close()

	counters := metrics.NewCounters()
	var done atomic.Bool

	var limiter *rate.Limiter
	if cfg.Producers.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Producers.RateLimit), 1)
	}

	clients := make([]lifecycle, 0, cfg.Producers.Count+cfg.Consumers.Count)

	for i := 0; i < cfg.Consumers.Count; i++ {
		name := fmt.Sprintf("consumer-%d", i)
		consumerDialer := dialer
		if cfg.Consumers.Durable {
			// Durable subscription state is keyed by client-id on the broker,
			// so each durable consumer connects under its own.
			opts := baseOpts
			opts.ClientID = name
			consumerDialer = loadgen.NewTransportDialer(opts)
		}
		c, err := loadgen.NewConsumer(loadgen.ConsumerOptions{
			ClientOptions: loadgen.ClientOptions{
				ID:            i,
				Name:          name,
				Queue:         pool.NewQueue(name),
				Dialer:        consumerDialer,
				Counters:      counters,
				Logger:        logger,
				Done:          &done,
				DisplayErrors: cfg.Run.DisplayErrors,
			},
			Destination:        cfg.Consumers.Destination,
			AckMode:            cfg.Consumers.AckMode,
			Durable:            cfg.Consumers.Durable,
			Selector:           cfg.Consumers.Selector,
			SubscriptionPrefix: cfg.Consumers.SubscriptionPrefix,
			ConsumeDelay:       cfg.Consumers.ConsumeDelay,
		})
		if err != nil {
			slog.Error("Failed to create consumer", "name", name, "error", err)
			os.Exit(1)
		}
		clients = append(clients, c)
	}

	for i := 0; i < cfg.Producers.Count; i++ {
		name := fmt.Sprintf("producer-%d", i)
		headers := make([]frame.Header, 0, len(cfg.Producers.Headers))
		for _, h := range cfg.Producers.Headers {
			headers = append(headers, frame.Header{Name: h.Name, Value: h.Value})
		}
		p, err := loadgen.NewProducer(loadgen.ProducerOptions{
			ClientOptions: loadgen.ClientOptions{
				ID:            i,
				Name:          name,
				Queue:         pool.NewQueue(name),
				Dialer:        dialer,
				Counters:      counters,
				Logger:        logger,
				Done:          &done,
				DisplayErrors: cfg.Run.DisplayErrors,
			},
			Destination:           cfg.Producers.Destination,
			MessageSize:           cfg.Producers.MessageSize,
			Persistent:            cfg.Producers.Persistent,
			SyncSend:              cfg.Producers.SyncSend,
			Headers:               headers,
			MessagesPerConnection: cfg.Producers.MessagesPerConnection,
			SendDelay:             cfg.Producers.SendDelay,
			Limiter:               limiter,
		})
		if err != nil {
			slog.Error("Failed to create producer", "name", name, "error", err)
			os.Exit(1)
		}
		clients = append(clients, p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsSrv *http.Server
	if cfg.Run.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(counters))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Run.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("Metrics endpoint listening", "addr", cfg.Run.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics endpoint failed", "error", err)
			}
		}()
	}

	reporter := metrics.NewReporter(counters, logger, cfg.Run.ReportInterval)
	go reporter.Run(ctx)

	for _, c := range clients {
		c.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if cfg.Run.Duration > 0 {
		timeout = time.After(cfg.Run.Duration)
	}

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)
	case <-timeout:
		slog.Info("Run duration elapsed, shutting down", "duration", cfg.Run.Duration)
	}

	done.Store(true)

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c lifecycle) {
			defer wg.Done()
			c.Shutdown()
		}(c)
	}
	wg.Wait()

	cancel()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	snap := counters.Snapshot()
	slog.Info("Run complete",
		"produced", snap.Produced,
		"consumed", snap.Consumed,
		"errors", snap.Errors)
}

// brokerTLS builds the client TLS configuration, or nil when TLS is off.
func brokerTLS(cfg config.BrokerConfig) (*tls.Config, error) {
	if !cfg.TLSEnabled {
		return nil, nil
	}
	tc := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.TLSInsecure,
	}
	if cfg.TLSCAFile != "" {
		pem, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLSCAFile)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}
