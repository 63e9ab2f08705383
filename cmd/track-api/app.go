package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/BearBump/TrackRelay/internal/api/trackapi"
	"github.com/BearBump/TrackRelay/internal/broker/messages"
	"github.com/BearBump/TrackRelay/internal/services/tracking"
)

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type lookupConsumer interface {
	ConsumeLookups(ctx context.Context, handler func(ctx context.Context, m messages.TrackingLookedUp) error) error
}

type backgroundProber interface {
	Run(ctx context.Context) error
}

type selfPinger interface {
	Start(ctx context.Context) error
}

// trackAPIDeps: consumer, prober and keepAlive are optional.
type trackAPIDeps struct {
	api       *trackapi.API
	svc       *tracking.Service
	consumer  lookupConsumer
	prober    backgroundProber
	keepAlive selfPinger
	logger    *slog.Logger
}

func runTrackAPI(ctx context.Context, opts trackAPIOpts, deps trackAPIDeps) error {
	log := deps.logger
	if log == nil {
		log = slog.Default()
	}
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, deps.api, opts.swaggerPath, log)
	}()

	if deps.prober != nil {
		go func() {
			if err := deps.prober.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("health prober stopped", "err", err)
			}
		}()
	}

	if deps.consumer != nil {
		go func() {
			log.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			err := deps.consumer.ConsumeLookups(ctx, func(ctx context.Context, m messages.TrackingLookedUp) error {
				err := deps.svc.ApplyLookupMessage(ctx, m)
				if errors.Is(err, tracking.ErrInvalidLookup) {
					log.Warn("skip invalid lookup message", "lookup_id", m.LookupID, "barcode", m.Barcode, "err", err)
					return nil
				}
				return err
			})
			if err != nil && ctx.Err() == nil {
				log.Error("kafka consumer stopped", "err", err)
			}
		}()
	}

	if deps.keepAlive != nil {
		if err := deps.keepAlive.Start(ctx); err != nil {
			log.Warn("keep-alive disabled", "err", err)
		}
	}

	select {
	case <-ctx.Done():
		<-httpErr
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, api *trackapi.API, swaggerPath string, log *slog.Logger) error {
	r := api.Router()
	if swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger.json"),
		))
	}

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("HTTP server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
