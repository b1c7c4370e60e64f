package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, event Event) error

// Subscriber consumes one or more streams through a consumer group. Messages
// whose handler fails stay pending and are replayed on the next Start.
type Subscriber struct {
	client        *redis.Client
	logger        *zap.Logger
	group         string
	consumer      string
	streams       []string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Streams       []string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
}

func NewSubscriber(client *redis.Client, logger *zap.Logger, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Subscriber{
		client:        client,
		logger:        logger,
		group:         config.Group,
		consumer:      config.Consumer,
		streams:       config.Streams,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
	}
}

// Start blocks until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	for _, stream := range s.streams {
		err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
		}
	}

	s.logger.Info("subscriber started",
		zap.Strings("streams", s.streams),
		zap.String("group", s.group),
		zap.String("consumer", s.consumer),
	)

	// Replay anything this consumer read but never acknowledged.
	if _, err := s.readMessages(ctx, "0"); err != nil && ctx.Err() == nil {
		s.logger.Warn("failed to replay pending messages", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber stopping", zap.Strings("streams", s.streams))
			return ctx.Err()
		default:
			if _, err := s.readMessages(ctx, ">"); err != nil && ctx.Err() == nil {
				s.logger.Warn("error reading messages", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}
}

// readMessages reads one batch starting at id (">" for new messages, "0" for
// this consumer's pending ones) and returns how many were acknowledged.
func (s *Subscriber) readMessages(ctx context.Context, id string) (int, error) {
	args := make([]string, 0, len(s.streams)*2)
	args = append(args, s.streams...)
	for range s.streams {
		args = append(args, id)
	}

	block := s.blockDuration
	if id != ">" {
		block = -1
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  args,
		Count:    s.batchSize,
		Block:    block,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream: %w", err)
	}

	acked := 0
	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := s.processMessage(ctx, message); err != nil {
				s.logger.Warn("failed to process message",
					zap.String("stream", stream.Stream),
					zap.String("id", message.ID),
					zap.Error(err),
				)
				continue
			}

			if err := s.client.XAck(ctx, stream.Stream, s.group, message.ID).Err(); err != nil {
				s.logger.Warn("failed to ack message", zap.String("id", message.ID), zap.Error(err))
				continue
			}
			acked++
		}
	}

	return acked, nil
}

func (s *Subscriber) processMessage(ctx context.Context, message redis.XMessage) error {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("invalid message format")
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return s.handler(ctx, event)
}

// DecodeData re-decodes the generic Data payload of an event into out.
func DecodeData(event Event, out any) error {
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s data: %w", event.Type, err)
	}
	return nil
}
