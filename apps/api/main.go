package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/auth"
	"github.com/abelhavalos/contacts/pkg/config"
	"github.com/abelhavalos/contacts/pkg/db"
	"github.com/abelhavalos/contacts/pkg/events"
	"github.com/abelhavalos/contacts/pkg/snowflake"
	"github.com/abelhavalos/contacts/pkg/store"
)

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("user", c.GetString("user_id")).
			Msg("request")
	}
}

func openStore(cfg config.API) (store.Store, error) {
	switch cfg.Storage {
	case "scylla":
		session, err := db.Open(cfg.ScyllaHosts, cfg.Keyspace)
		if err != nil {
			return nil, err
		}
		return store.NewScyllaStore(session), nil
	case "memory", "":
		log.Warn().Msg("using in-memory storage; data is lost on exit")
		return store.NewMemoryStore(), nil
	}
	return nil, errors.New("STORAGE must be memory or scylla, got " + cfg.Storage)
}

func main() {
	config.Load()
	cfg := config.LoadAPI()
	config.SetupLogging(os.Stdout, cfg.LogLevel, false)
	gin.SetMode(gin.ReleaseMode)

	if !cfg.Addressing.Valid() {
		log.Fatal().Str("addressing", string(cfg.Addressing)).Msg("API_ADDRESSING must be conversation or participants")
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer st.Close()

	if cfg.SeedFile != "" {
		if err := store.SeedFile(context.Background(), st, cfg.SeedFile); err != nil {
			log.Fatal().Err(err).Str("file", cfg.SeedFile).Msg("failed to seed storage")
		}
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		log.Fatal().Err(err).Int64("node", cfg.NodeID).Msg("failed to initialize snowflake node")
	}

	var pub events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing conversation updates")
	}
	defer pub.Close()

	srv := NewServer(st, auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL), node, pub, cfg.Addressing)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("storage", cfg.Storage).Str("addressing", string(cfg.Addressing)).Msg("API service starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("API service stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("API service stopped")
}
