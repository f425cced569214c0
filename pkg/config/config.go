package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/abelhavalos/contacts/pkg/model"
)

type API struct {
	Addr         string
	Storage      string // memory | scylla
	ScyllaHosts  []string
	Keyspace     string
	JWTSecret    string
	TokenTTL     time.Duration
	KafkaBrokers []string
	KafkaTopic   string
	Addressing   model.Addressing
	SeedFile     string
	NodeID       int64
	LogLevel     string
}

type Gateway struct {
	Addr         string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	JWTSecret    string
	LogFile      string
	LogLevel     string
}

// Load reads a .env file from the working directory if one exists. Values
// already present in the environment win.
func Load() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg(".env file could not be loaded")
	}
}

func LoadAPI() API {
	return API{
		Addr:         GetEnv("API_ADDR", ":8081"),
		Storage:      GetEnv("STORAGE", "memory"),
		ScyllaHosts:  GetEnvList("SCYLLA_HOSTS", "localhost:9042"),
		Keyspace:     GetEnv("SCYLLA_KEYSPACE", "contacts"),
		JWTSecret:    GetEnv("JWT_SECRET", "my_secret_key"),
		TokenTTL:     GetEnvDuration("TOKEN_TTL", 24*time.Hour),
		KafkaBrokers: GetEnvList("KAFKA_BROKERS", ""),
		KafkaTopic:   GetEnv("KAFKA_TOPIC", "conversation-updates"),
		Addressing:   model.Addressing(GetEnv("API_ADDRESSING", string(model.AddressByConversation))),
		SeedFile:     GetEnv("SEED_FILE", ""),
		NodeID:       int64(GetEnvInt("NODE_ID", 1)),
		LogLevel:     GetEnv("LOG_LEVEL", "info"),
	}
}

func LoadGateway() Gateway {
	return Gateway{
		Addr:         GetEnv("GATEWAY_ADDR", ":8080"),
		KafkaBrokers: GetEnvList("KAFKA_BROKERS", "localhost:19092"),
		KafkaTopic:   GetEnv("KAFKA_TOPIC", "conversation-updates"),
		// every gateway instance needs every update, so the group is per host
		KafkaGroup: GetEnv("KAFKA_GROUP", "gateway-"+hostname()),
		JWTSecret:  GetEnv("JWT_SECRET", "my_secret_key"),
		LogFile:    GetEnv("GATEWAY_LOG", "gateway.log"),
		LogLevel:   GetEnv("LOG_LEVEL", "info"),
	}
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-integer environment value")
	}
	return defaultValue
}

func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring malformed duration")
	}
	return defaultValue
}

// GetEnvList splits a comma separated value, dropping empty items.
func GetEnvList(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(GetEnv(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return h
}
