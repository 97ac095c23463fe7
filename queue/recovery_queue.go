package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/hibiken/asynq"
	"github.com/payva/go-payva-auth/global"
	"github.com/payva/go-payva-auth/types"
	"github.com/payva/go-payva-auth/util"
	"github.com/redis/go-redis/v9"
)

// RecoveryQueue delivers wallet recovery codes out of band. Delivery goes
// through the operator-configured webhook so this process never speaks SMTP
// itself.
type RecoveryQueue struct {
	restyClient *resty.Client
	env         *types.Environment
}

func NewRecoveryQueue(env *types.Environment) *RecoveryQueue {
	rcClient := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &RecoveryQueue{
		restyClient: rcClient,
		env:         env,
	}
}

// ProcessRecoveryEmailTask posts the recovery code to the delivery webhook.
// Malformed payloads and webhook 4xx responses skip retry; transient
// failures are retried by asynq with the configured backoff.
func (rq *RecoveryQueue) ProcessRecoveryEmailTask(ctx context.Context, t *asynq.Task) error {
	var task types.RecoveryEmailTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if task.Email == "" || task.Code == "" {
		return fmt.Errorf("recovery task missing email or code: %w", asynq.SkipRetry)
	}

	// suppress duplicate sends while a delivery for this email is in flight
	dedupKey := fmt.Sprintf("recovery:sent:%s", util.Sha256Hex([]byte(task.Email)))
	set, sErr := rq.env.RedisClient.SetNX(ctx, dedupKey, "1", time.Minute).Result()
	if sErr != nil && sErr != redis.Nil {
		level.Error(global.Logger).Log("msg", "failed to check recovery dedup key", "error", sErr)
	}
	if sErr == nil && !set {
		level.Info(global.Logger).Log("msg", "recovery email already queued recently, skipping")
		return nil
	}

	body := map[string]string{
		"to":       task.Email,
		"template": "wallet-recovery",
		"code":     task.Code,
	}
	resp, err := rq.restyClient.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+global.Conf.Recovery.WebhookKey).
		SetBody(body).
		Post(global.Conf.Recovery.WebhookURL)
	if err != nil {
		level.Error(global.Logger).Log("msg", "recovery webhook unreachable", "error", err)
		return err
	}
	if resp.IsError() {
		if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
			level.Error(global.Logger).Log("msg", "recovery webhook rejected delivery", "status", resp.StatusCode())
			return fmt.Errorf("webhook rejected delivery with %d: %w", resp.StatusCode(), asynq.SkipRetry)
		}
		return fmt.Errorf("webhook returned %d", resp.StatusCode())
	}
	level.Info(global.Logger).Log("msg", "recovery email dispatched")
	return nil
}
