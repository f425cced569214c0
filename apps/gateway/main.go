package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/auth"
	"github.com/abelhavalos/contacts/pkg/config"
	"github.com/abelhavalos/contacts/pkg/events"
	"github.com/abelhavalos/contacts/pkg/model"
)

func newMux(hub *Hub, signer *auth.Signer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, signer, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func main() {
	config.Load()
	cfg := config.LoadGateway()

	f, err := config.OpenLogFile(cfg.LogFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.LogFile).Msg("error opening log file")
	}
	defer f.Close()
	config.SetupLogging(f, cfg.LogLevel, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := NewHub()
	go hub.Run(ctx)

	consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
	defer consumer.Close()
	go func() {
		err := consumer.Consume(ctx, func(u model.Update) { hub.Publish(u) })
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("consumer stopped")
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(hub, auth.NewSigner(cfg.JWTSecret, 0)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Addr).Strs("brokers", cfg.KafkaBrokers).Str("group", cfg.KafkaGroup).Msg("gateway service starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("gateway service stopped")
	}
}
