package main

import (
	"context"
	"fmt"
	"log"

	"caravan/cmd/server/config"
	"caravan/internal/bus"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// buildBus constructs the configured bus backend. The returned cleanup
// closes the backend and any client connections behind it.
func buildBus(ctx context.Context, cfg config.BusConfig) (bus.Bus, func(), error) {
	switch cfg.Backend {
	case config.BackendLocal:
		b := bus.NewLocalBus(bus.LocalBusConfig{Logf: log.Printf})
		return b, func() { b.Close() }, nil

	case config.BackendRedis:
		client, err := buildRedisClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		streamCfg := bus.StreamBusConfig{
			MaxLen:   cfg.StreamMaxLen,
			Consumer: cfg.ConsumerName,
			Logf:     log.Printf,
		}
		if cfg.ReclaimIdle != nil {
			streamCfg.ReclaimIdle = *cfg.ReclaimIdle
		}
		b := bus.NewStreamBus(client, streamCfg)
		cleanup := func() {
			b.Close()
			if err := client.Close(); err != nil {
				log.Printf("close redis: %v", err)
			}
		}
		return b, cleanup, nil

	case config.BackendKafka:
		b, err := bus.NewKafkaBus(cfg.KafkaBrokers, bus.KafkaBusConfig{Logf: log.Printf})
		if err != nil {
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown bus backend %q", cfg.Backend)
	}
}

func buildRedisClient(ctx context.Context, cfg config.BusConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
