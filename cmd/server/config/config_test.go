package config

import (
	"testing"
	"time"
)

func TestLoadBus_DefaultsToLocal(t *testing.T) {
	t.Setenv("BUS_BACKEND", "")

	cfg, err := LoadBus()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend != BackendLocal {
		t.Fatalf("expected local backend, got %q", cfg.Backend)
	}
}

func TestLoadBus_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("BUS_BACKEND", "rabbitmq")

	if _, err := LoadBus(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadBus_RedisRequiresURL(t *testing.T) {
	t.Setenv("BUS_BACKEND", "redis")
	t.Setenv("REDIS_URL", "")

	if _, err := LoadBus(); err == nil {
		t.Fatalf("expected error when REDIS_URL is empty")
	}
}

func TestLoadBus_RedisWithOptionalFields(t *testing.T) {
	t.Setenv("BUS_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_DIAL_TIMEOUT", "3s")
	t.Setenv("REDIS_READ_TIMEOUT", "4s")
	t.Setenv("REDIS_POOL_SIZE", "9")
	t.Setenv("REDIS_STREAM_MAXLEN", "1000")
	t.Setenv("REDIS_RECLAIM_IDLE", "45s")
	t.Setenv("REDIS_CONSUMER_NAME", "saga-1")
	t.Setenv("REDIS_OTEL", "true")

	cfg, err := LoadBus()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected redis url: %s", cfg.RedisURL)
	}
	if cfg.DialTimeout == nil || *cfg.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected dial timeout: %v", cfg.DialTimeout)
	}
	if cfg.ReadTimeout == nil || *cfg.ReadTimeout != 4*time.Second {
		t.Fatalf("unexpected read timeout: %v", cfg.ReadTimeout)
	}
	if cfg.PoolSize == nil || *cfg.PoolSize != 9 {
		t.Fatalf("unexpected pool size: %v", cfg.PoolSize)
	}
	if cfg.StreamMaxLen != 1000 {
		t.Fatalf("unexpected stream maxlen: %d", cfg.StreamMaxLen)
	}
	if cfg.ReclaimIdle == nil || *cfg.ReclaimIdle != 45*time.Second {
		t.Fatalf("unexpected reclaim idle: %v", cfg.ReclaimIdle)
	}
	if cfg.ConsumerName != "saga-1" {
		t.Fatalf("unexpected consumer name: %s", cfg.ConsumerName)
	}
	if !cfg.EnableOTel {
		t.Fatalf("expected otel enabled")
	}
}

func TestLoadBus_RedisRejectsInvalidDuration(t *testing.T) {
	t.Setenv("BUS_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_DIAL_TIMEOUT", "not-a-duration")

	if _, err := LoadBus(); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestLoadBus_KafkaRequiresBrokers(t *testing.T) {
	t.Setenv("BUS_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "")

	if _, err := LoadBus(); err == nil {
		t.Fatalf("expected error when KAFKA_BROKERS is empty")
	}
}

func TestLoadServer_DefaultAddr(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
}

func TestLoadSaga(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/caravan")
	t.Setenv("PAYMENT_DECLINE_THRESHOLD", "250.5")
	t.Setenv("SEED_STOCK", "sku-a=10, sku-b=3")

	cfg, err := LoadSaga()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/caravan" {
		t.Fatalf("unexpected database url: %s", cfg.DatabaseURL)
	}
	if cfg.DeclineThreshold != 250.5 {
		t.Fatalf("unexpected threshold: %v", cfg.DeclineThreshold)
	}
	if cfg.SeedStock["sku-a"] != 10 || cfg.SeedStock["sku-b"] != 3 {
		t.Fatalf("unexpected seed stock: %v", cfg.SeedStock)
	}
}

func TestLoadSaga_DefaultThreshold(t *testing.T) {
	t.Setenv("PAYMENT_DECLINE_THRESHOLD", "")
	t.Setenv("SEED_STOCK", "")

	cfg, err := LoadSaga()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DeclineThreshold != 1000 {
		t.Fatalf("unexpected default threshold: %v", cfg.DeclineThreshold)
	}
	if len(cfg.SeedStock) != 0 {
		t.Fatalf("expected empty seed stock, got %v", cfg.SeedStock)
	}
}

func TestParseSeedStock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    map[string]int
		wantErr bool
	}{
		{name: "empty", raw: "", want: map[string]int{}},
		{name: "single", raw: "sku-a=5", want: map[string]int{"sku-a": 5}},
		{name: "whitespace", raw: " sku-a = 5 , sku-b = 2 ", want: map[string]int{"sku-a": 5, "sku-b": 2}},
		{name: "trailing comma", raw: "sku-a=5,", want: map[string]int{"sku-a": 5}},
		{name: "missing equals", raw: "sku-a", wantErr: true},
		{name: "bad quantity", raw: "sku-a=lots", wantErr: true},
		{name: "negative quantity", raw: "sku-a=-1", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseSeedStock(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for sku, qty := range tc.want {
				if got[sku] != qty {
					t.Fatalf("expected %s=%d, got %d", sku, qty, got[sku])
				}
			}
		})
	}
}
