package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog/log"
)

type Session struct {
	*gocql.Session
}

func cluster(hosts []string, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	// Retry policy
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}
	return cluster
}

func NewSession(hosts []string, keyspace string) (*Session, error) {
	session, err := cluster(hosts, keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla %v: %w", hosts, err)
	}

	log.Info().Strs("hosts", hosts).Str("keyspace", keyspace).Msg("connected to ScyllaDB cluster")
	return &Session{Session: session}, nil
}

// Open creates the keyspace and tables when missing and returns a session
// bound to the keyspace.
func Open(hosts []string, keyspace string) (*Session, error) {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return nil, err
	}
	err = CreateKeyspace(sys, keyspace)
	sys.Close()
	if err != nil {
		return nil, err
	}

	session, err := NewSession(hosts, keyspace)
	if err != nil {
		return nil, err
	}
	if err := Migrate(session); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}
