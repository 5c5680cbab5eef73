package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

// Event - полезная нагрузка сообщения топика метрик
type Event = metric.Event

const contentTypeJSON = "application/json"

// encodeEvent - ключ сообщения - натуральный ключ события
func encodeEvent(evt Event) (kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(evt.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(contentTypeJSON)},
		},
	}, nil
}

func decodeEvent(msg kafka.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", myErr.ErrInvalidEvent, err)
	}

	return evt, nil
}
