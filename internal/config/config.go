// Package config loads service configuration from the environment.
// Every key can be set as PROC_<SECTION>_<KEY> (e.g. PROC_DATABASE_HOST);
// a local .env file is honored for development.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Service        ServiceConfig
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	NATS           NATSConfig
	Clients        ClientsConfig
	VendorApproval VendorApprovalConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	RuleCacheTTL time.Duration
}

type NATSConfig struct {
	URL string
}

// ClientsConfig holds base URLs and the shared timeout for collaborator services.
type ClientsConfig struct {
	RulesURL       string
	VendorsURL     string
	AuthzURL       string
	EvidenceURL    string
	RequestTimeout time.Duration
}

// VendorApprovalConfig holds the organization-configured vendor trust durations,
// in months.
type VendorApprovalConfig struct {
	ThreeQuoteMonths int
	CompletedMonths  int
	ManualMonths     int
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	// Best effort; absence of a .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PROC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("service.name", "proc-requests")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "proc_requests")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_time", time.Hour)
	v.SetDefault("database.max_idle_time", 30*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.rule_cache_ttl", 5*time.Minute)

	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("clients.rules_url", "http://localhost:9091")
	v.SetDefault("clients.vendors_url", "http://localhost:9092")
	v.SetDefault("clients.authz_url", "http://localhost:9093")
	v.SetDefault("clients.evidence_url", "http://localhost:9094")
	v.SetDefault("clients.request_timeout", 5*time.Second)

	v.SetDefault("vendor_approval.three_quote_months", 12)
	v.SetDefault("vendor_approval.completed_months", 6)
	v.SetDefault("vendor_approval.manual_months", 3)

	cfg := &Config{
		Service: ServiceConfig{
			Name:        v.GetString("service.name"),
			Version:     v.GetString("service.version"),
			Environment: v.GetString("service.environment"),
		},
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Host:        v.GetString("database.host"),
			Port:        v.GetInt("database.port"),
			User:        v.GetString("database.user"),
			Password:    v.GetString("database.password"),
			Database:    v.GetString("database.database"),
			SSLMode:     v.GetString("database.sslmode"),
			MaxConns:    v.GetInt32("database.max_conns"),
			MinConns:    v.GetInt32("database.min_conns"),
			MaxConnTime: v.GetDuration("database.max_conn_time"),
			MaxIdleTime: v.GetDuration("database.max_idle_time"),
		},
		Redis: RedisConfig{
			Addr:         v.GetString("redis.addr"),
			Password:     v.GetString("redis.password"),
			DB:           v.GetInt("redis.db"),
			RuleCacheTTL: v.GetDuration("redis.rule_cache_ttl"),
		},
		NATS: NATSConfig{
			URL: v.GetString("nats.url"),
		},
		Clients: ClientsConfig{
			RulesURL:       v.GetString("clients.rules_url"),
			VendorsURL:     v.GetString("clients.vendors_url"),
			AuthzURL:       v.GetString("clients.authz_url"),
			EvidenceURL:    v.GetString("clients.evidence_url"),
			RequestTimeout: v.GetDuration("clients.request_timeout"),
		},
		VendorApproval: VendorApprovalConfig{
			ThreeQuoteMonths: v.GetInt("vendor_approval.three_quote_months"),
			CompletedMonths:  v.GetInt("vendor_approval.completed_months"),
			ManualMonths:     v.GetInt("vendor_approval.manual_months"),
		},
	}

	return cfg, nil
}
