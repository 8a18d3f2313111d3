package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"tabletap/internal/domain"
	"tabletap/internal/storage"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// BoardWriter folds order events into the board read model.
type BoardWriter interface {
	ApplyOrderEvent(ctx context.Context, ev domain.OrderEvent) error
}

var _ BoardWriter = (*storage.RedisOrderBoard)(nil)

type Consumer struct {
	Reader MessageReader
	Board  BoardWriter
	Logger *zap.Logger
	// RetryDelay is the pause after a failed read.
	RetryDelay time.Duration
}

func NewConsumer(reader MessageReader, board BoardWriter, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		Reader:     reader,
		Board:      board,
		Logger:     logger.Named("order-board"),
		RetryDelay: time.Second,
	}
}

// Start reads until ctx is cancelled. Malformed messages are logged and
// skipped so one bad payload cannot stall the partition.
func (c *Consumer) Start(ctx context.Context) error {
	c.Logger.Info("order board consumer started")
	for {
		message, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.Logger.Info("order board consumer stopped")
				return nil
			}
			c.Logger.Error("read message", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.RetryDelay):
			}
			continue
		}

		var ev domain.OrderEvent
		if err := json.Unmarshal(message.Value, &ev); err != nil {
			c.Logger.Warn("skip malformed order event",
				zap.Int64("offset", message.Offset), zap.Error(err))
			continue
		}
		c.Process(ctx, ev)
	}
}

func (c *Consumer) Process(ctx context.Context, ev domain.OrderEvent) {
	switch ev.Type {
	case domain.EventOrderPlaced, domain.EventOrderFinished:
	default:
		c.Logger.Debug("ignore event", zap.String("type", ev.Type))
		return
	}

	if err := c.Board.ApplyOrderEvent(ctx, ev); err != nil {
		c.Logger.Error("apply order event",
			zap.String("type", ev.Type),
			zap.Int("order_id", ev.OrderID),
			zap.Error(err))
		return
	}
	c.Logger.Debug("order event applied",
		zap.String("type", ev.Type),
		zap.Int("order_id", ev.OrderID),
		zap.Int("restaurant_id", ev.RestaurantID))
}
