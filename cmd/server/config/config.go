package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Bus backends selectable via BUS_BACKEND.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
	BackendKafka = "kafka"
)

// BusConfig holds message bus selection and connection settings.
type BusConfig struct {
	Backend      string
	RedisURL     string
	DialTimeout  *time.Duration
	ReadTimeout  *time.Duration
	WriteTimeout *time.Duration
	PoolSize     *int
	MinIdleConns *int
	MaxRetries   *int
	StreamMaxLen int64
	ReclaimIdle  *time.Duration
	ConsumerName string
	EnableOTel   bool
	TLSConfig    *tls.Config
	KafkaBrokers string
}

// ServerConfig holds the HTTP listen address.
type ServerConfig struct {
	Addr string
}

// SagaConfig holds order saga tunables.
type SagaConfig struct {
	DatabaseURL      string
	DeclineThreshold float64
	SeedStock        map[string]int
}

// LoadBus reads bus settings from env. BUS_BACKEND defaults to local;
// redis and kafka backends require their respective connection vars.
func LoadBus() (BusConfig, error) {
	cfg := BusConfig{
		Backend: strings.TrimSpace(os.Getenv("BUS_BACKEND")),
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendLocal
	}

	var err error
	switch cfg.Backend {
	case BackendLocal:
	case BackendRedis:
		if cfg.RedisURL, err = requiredString("REDIS_URL"); err != nil {
			return cfg, err
		}
		if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
			return cfg, err
		}
		if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
			return cfg, err
		}
		if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
			return cfg, err
		}
		if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
			return cfg, err
		}
		if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
			return cfg, err
		}
		if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
			return cfg, err
		}
		if cfg.StreamMaxLen, err = optionalInt64("REDIS_STREAM_MAXLEN"); err != nil {
			return cfg, err
		}
		if cfg.ReclaimIdle, err = optionalDuration("REDIS_RECLAIM_IDLE"); err != nil {
			return cfg, err
		}
		cfg.ConsumerName = strings.TrimSpace(os.Getenv("REDIS_CONSUMER_NAME"))
		if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
			return cfg, err
		}
		if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
			return cfg, err
		}
	case BackendKafka:
		if cfg.KafkaBrokers, err = requiredString("KAFKA_BROKERS"); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("BUS_BACKEND must be one of %s, %s, %s", BackendLocal, BackendRedis, BackendKafka)
	}

	return cfg, nil
}

// LoadServer reads the HTTP server address from env.
func LoadServer() (ServerConfig, error) {
	addr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if addr == "" {
		addr = ":8080"
	}
	return ServerConfig{Addr: addr}, nil
}

// LoadSaga reads saga tunables from env.
func LoadSaga() (SagaConfig, error) {
	cfg := SagaConfig{
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DeclineThreshold: 1000,
	}

	if raw := strings.TrimSpace(os.Getenv("PAYMENT_DECLINE_THRESHOLD")); raw != "" {
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return cfg, fmt.Errorf("PAYMENT_DECLINE_THRESHOLD: %w", err)
		}
		if val <= 0 {
			return cfg, errors.New("PAYMENT_DECLINE_THRESHOLD must be > 0")
		}
		cfg.DeclineThreshold = val
	}

	seed, err := ParseSeedStock(os.Getenv("SEED_STOCK"))
	if err != nil {
		return cfg, err
	}
	cfg.SeedStock = seed

	return cfg, nil
}

// ParseSeedStock parses "sku=qty,sku=qty" pairs into per-SKU quantities.
// The empty string yields an empty map.
func ParseSeedStock(raw string) (map[string]int, error) {
	seed := make(map[string]int)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return seed, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		sku, qtyStr, ok := strings.Cut(pair, "=")
		sku = strings.TrimSpace(sku)
		if !ok || sku == "" {
			return nil, fmt.Errorf("SEED_STOCK: malformed entry %q", pair)
		}
		qty, err := strconv.Atoi(strings.TrimSpace(qtyStr))
		if err != nil {
			return nil, fmt.Errorf("SEED_STOCK: %q: %w", pair, err)
		}
		if qty < 0 {
			return nil, fmt.Errorf("SEED_STOCK: %q must be >= 0", pair)
		}
		seed[sku] = qty
	}
	return seed, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt64(name string) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}
