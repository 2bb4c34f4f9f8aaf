// Package signalbus is the ordered, partitioned log the Signal Generator
// publishes to and the Trigger Dispatcher consumes from. It is implemented
// over Redis Streams: one stream per signal_type gives per-partition
// ordering, and a consumer group gives the dispatcher at-least-once,
// offset-committed delivery.
package signalbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aristath/tradepilot/internal/domain"
)

const streamPrefix = "signals:"

func streamKey(signalType domain.SignalType) string {
	return streamPrefix + string(signalType)
}

// Bus publishes and consumes domain.Signal messages.
type Bus struct {
	client *redis.Client
	group  string
}

// New builds a Bus over an existing Redis client, with consumer-group name
// group used by Consume.
func New(client *redis.Client, group string) *Bus {
	return &Bus{client: client, group: group}
}

// Publish appends signal to its type's partition. On ack-timeout it is the
// caller's responsibility to log-and-drop rather than retry, per the
// level-triggered detector contract.
func (b *Bus) Publish(ctx context.Context, signal domain.Signal) error {
	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(signal.Type),
		Values: map[string]any{"payload": data},
	}).Err()
}

// EnsureGroup creates the consumer group for signalType if it doesn't exist
// yet, starting from the beginning of the stream.
func (b *Bus) EnsureGroup(ctx context.Context, signalType domain.SignalType) error {
	err := b.client.XGroupCreateMkStream(ctx, streamKey(signalType), b.group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= len("BUSYGROUP") && err.Error()[:9] == "BUSYGROUP"
}

// Message pairs a decoded Signal with the stream entry id needed to ack it.
type Message struct {
	ID     string
	Signal domain.Signal
}

// ReadBatch reads up to count pending messages for signalType, blocking up
// to block for at least one. The dispatcher acks via Ack only after a
// successful batch flush, so a crash before ack replays the batch.
func (b *Bus) ReadBatch(ctx context.Context, signalType domain.SignalType, consumer string, count int, block time.Duration) ([]Message, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: consumer,
		Streams:  []string{streamKey(signalType), ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group: %w", err)
	}

	var messages []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			raw, ok := entry.Values["payload"].(string)
			if !ok {
				continue
			}
			var sig domain.Signal
			if err := json.Unmarshal([]byte(raw), &sig); err != nil {
				continue
			}
			messages = append(messages, Message{ID: entry.ID, Signal: sig})
		}
	}
	return messages, nil
}

// Ack commits offsets for the given message ids, guaranteeing at-least-once
// processing only after the dispatcher has successfully flushed its batch.
func (b *Bus) Ack(ctx context.Context, signalType domain.SignalType, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.client.XAck(ctx, streamKey(signalType), b.group, ids...).Err()
}
