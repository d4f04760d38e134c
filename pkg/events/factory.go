package events

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coinbase/solanapay/pkg/config"
)

// New creates the publisher selected by cfg.Driver
func New(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Driver {
	case config.EventsDriverNone:
		return NopPublisher{}, nil
	case config.EventsDriverLog, "":
		return NewLogPublisher(logger), nil
	case config.EventsDriverKafka:
		return NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Topic), nil
	case config.EventsDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisPublisher(client, cfg.Topic), nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}
