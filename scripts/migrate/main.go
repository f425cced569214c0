package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/config"
	"github.com/abelhavalos/contacts/pkg/db"
	"github.com/abelhavalos/contacts/pkg/store"
)

func main() {
	config.Load()
	config.SetupLogging(os.Stderr, "debug", true)

	hosts := config.GetEnvList("SCYLLA_HOSTS", "localhost:9042")
	keyspace := flag.String("keyspace", config.GetEnv("SCYLLA_KEYSPACE", "contacts"), "keyspace to migrate")
	drop := flag.Bool("drop", false, "drop every table before creating them again")
	seed := flag.String("seed", "", "seed file to apply after migrating")
	flag.Parse()

	session, err := db.Open(hosts, *keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open keyspace")
	}
	defer session.Close()

	if *drop {
		if err := db.Drop(session); err != nil {
			log.Fatal().Err(err).Msg("failed to drop tables")
		}
		if err := db.Migrate(session); err != nil {
			log.Fatal().Err(err).Msg("failed to recreate tables")
		}
	}

	if *seed != "" {
		if err := store.SeedFile(context.Background(), store.NewScyllaStore(session), *seed); err != nil {
			log.Fatal().Err(err).Msg("failed to seed")
		}
	}
	log.Info().Str("keyspace", *keyspace).Int("tables", len(db.Tables)).Msg("schema ready")
}
