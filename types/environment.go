package types

import (
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// Environment carries process-wide handles shared across services.
type Environment struct {
	RedisClient *redis.Client
	TaskClient  *asynq.Client
	Cron        *cron.Cron
}

func NewEnvironment(redisClient *redis.Client) *Environment {
	return &Environment{
		RedisClient: redisClient,
		Cron:        cron.New(),
	}
}
