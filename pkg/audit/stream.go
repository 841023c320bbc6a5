package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream key audit events land on.
const DefaultStream = "rampart:audit"

// streamMaxLen caps the stream so an unconsumed audit trail cannot grow
// without bound. Trimming is approximate (XADD MAXLEN ~).
const streamMaxLen = 100_000

// StreamSink appends events to a Redis stream for downstream consumers.
type StreamSink struct {
	client *redis.Client
	stream string
}

// NewStreamSink wraps a client, writing to DefaultStream.
func NewStreamSink(client *redis.Client) *StreamSink {
	return &StreamSink{client: client, stream: DefaultStream}
}

// NewStreamSinkWithKey writes to a custom stream key.
func NewStreamSinkWithKey(client *redis.Client, stream string) *StreamSink {
	return &StreamSink{client: client, stream: stream}
}

// Record implements Sink.
func (s *StreamSink) Record(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":   evt.EventID.String(),
			"event_type": evt.EventType,
			"payload":    string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("audit: stream append: %w", err)
	}
	return nil
}
