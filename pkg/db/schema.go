package db

import (
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"
)

var keyspaceName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// Tables in creation order.
var Tables = []struct {
	Name string
	DDL  string
}{
	{"users", `CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		full_name text,
		email text,
		avatar_url text,
		bio text,
		location text,
		phone text
	)`},
	{"users_by_email", `CREATE TABLE IF NOT EXISTS users_by_email (
		email text PRIMARY KEY,
		user_id text
	)`},
	{"contacts", `CREATE TABLE IF NOT EXISTS contacts (
		user_id text,
		contact_id text,
		PRIMARY KEY (user_id, contact_id)
	)`},
	{"communities", `CREATE TABLE IF NOT EXISTS communities (
		id text PRIMARY KEY,
		name text,
		description text,
		members set<text>
	)`},
	{"events", `CREATE TABLE IF NOT EXISTS events (
		id text PRIMARY KEY,
		title text,
		description text,
		event_date text,
		location text
	)`},
	{"conversations", `CREATE TABLE IF NOT EXISTS conversations (
		id text PRIMARY KEY,
		mode text,
		community_id text,
		members set<text>
	)`},
	{"conversation_index", `CREATE TABLE IF NOT EXISTS conversation_index (
		index_key text PRIMARY KEY,
		conversation_id text
	)`},
	{"messages", `CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		id bigint,
		sender_id text,
		sender_name text,
		body text,
		client_id text,
		timestamp timestamp,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id ASC)`},
	{"message_client_ids", `CREATE TABLE IF NOT EXISTS message_client_ids (
		conversation_id text,
		sender_id text,
		client_id text,
		message_id bigint,
		PRIMARY KEY (conversation_id, sender_id, client_id)
	)`},
}

func CreateKeyspace(s *Session, keyspace string) error {
	if !keyspaceName.MatchString(keyspace) {
		return fmt.Errorf("invalid keyspace name %q", keyspace)
	}
	q := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)
	if err := s.Query(q).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

func Migrate(s *Session) error {
	for _, t := range Tables {
		if err := s.Query(t.DDL).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
		log.Debug().Str("table", t.Name).Msg("table ready")
	}
	return nil
}

// Drop removes every table, newest first.
func Drop(s *Session) error {
	for i := len(Tables) - 1; i >= 0; i-- {
		name := Tables[i].Name
		if err := s.Query("DROP TABLE IF EXISTS " + name).Exec(); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
		log.Info().Str("table", name).Msg("table dropped")
	}
	return nil
}
