package integration

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type Env struct {
	Redis  *tcredis.RedisContainer
	Kafka  *kafka.KafkaContainer
	RDB    *goredis.Client
	KAddr  []string
	Cancel context.CancelFunc
}

// Setup starts Redis and, when withKafka is set, a single-node Kafka broker.
func Setup(ctx context.Context, withKafka bool) (*Env, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	env := &Env{Cancel: cancel}

	redisC, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		cancel()
		return nil, err
	}
	env.Redis = redisC

	url, err := redisC.ConnectionString(ctx)
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	env.RDB = goredis.NewClient(opts)

	if !withKafka {
		return env, nil
	}

	kafkaC, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("cart-service-test"),
	)
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	env.Kafka = kafkaC

	env.KAddr, err = kafkaC.Brokers(ctx)
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	return env, nil
}

func (e *Env) Teardown(ctx context.Context) {
	e.Cancel()
	if e.RDB != nil {
		_ = e.RDB.Close()
	}
	if e.Kafka != nil {
		_ = e.Kafka.Terminate(ctx)
	}
	if e.Redis != nil {
		_ = e.Redis.Terminate(ctx)
	}
}
