// Package events publishes committed transfers to Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"account-ledger/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultChannel            = "ledger.transfers"
	EventTypeTransferComplete = "transfer.completed"
)

type TransferEvent struct {
	EventType      string    `json:"event_type"`
	ReferenceCode  string    `json:"reference_code"`
	FromAccount    string    `json:"from_account"`
	ToAccount      string    `json:"to_account"`
	OperatorUserID string    `json:"operator_user_id"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	PostedAt       time.Time `json:"posted_at"`
}

type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisPublisher(rdb *redis.Client, channel string, log *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisPublisher{rdb: rdb, channel: channel, log: log}
}

func (p *RedisPublisher) PublishTransferCompleted(ctx context.Context, ev domain.TransferPosted) error {
	payload, err := json.Marshal(TransferEvent{
		EventType:      EventTypeTransferComplete,
		ReferenceCode:  ev.ReferenceCode,
		FromAccount:    ev.OperatingAccountID,
		ToAccount:      ev.RecipientAccountID,
		OperatorUserID: ev.OperatingUserID.String(),
		Amount:         ev.Amount.StringFixed(domain.MoneyScale),
		Currency:       ev.CurrencyCode,
		PostedAt:       ev.PostedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	receivers, err := p.rdb.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.log.Debug("transfer event published",
		zap.String("channel", p.channel),
		zap.String("reference_code", ev.ReferenceCode),
		zap.Int64("receivers", receivers),
	)
	return nil
}
