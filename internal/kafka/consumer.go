package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	kgo "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"reporting-etl/internal/metrics"
	myErr "reporting-etl/internal/types/errors"
)

const defaultMaxFetchFailures = 5

// State - состояние консьюмера: disconnected -> connected -> subscribed -> consuming
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateSubscribed
	StateConsuming
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateConsuming:
		return "consuming"
	}

	return "disconnected"
}

// Consumer реализует EventConsumer.
type Consumer struct {
	Reader ReaderInterface
	Logger *zap.SugaredLogger
	// MaxFetchFailures - сколько ошибок чтения подряд считается потерей соединения
	MaxFetchFailures int

	mu    sync.Mutex
	state atomic.Int32
	open  func(ctx context.Context) (ReaderInterface, error)
}

func NewConsumer(factory *Factory, logger *zap.SugaredLogger) *Consumer {
	return &Consumer{
		Logger:           logger,
		MaxFetchFailures: defaultMaxFetchFailures,
		open: func(ctx context.Context) (ReaderInterface, error) {
			if err := factory.Ping(ctx); err != nil {
				return nil, err
			}
			r, err := factory.NewReader()
			if err != nil {
				return nil, err
			}
			return &kafkaReaderWrapper{Reader: r}, nil
		},
	}
}

type kafkaReaderWrapper struct {
	Reader *kgo.Reader
}

func (w *kafkaReaderWrapper) FetchMessage(ctx context.Context) (kgo.Message, error) {
	return w.Reader.FetchMessage(ctx)
}

func (w *kafkaReaderWrapper) CommitMessages(ctx context.Context, msgs ...kgo.Message) error {
	return w.Reader.CommitMessages(ctx, msgs...)
}

func (w *kafkaReaderWrapper) Close() error {
	return w.Reader.Close()
}

func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		c.Logger.Infow("consumer state changed", "from", old.String(), "to", s.String())
	}
}

func (c *Consumer) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Reader == nil {
		if c.open == nil {
			return myErr.ErrConsumerDisconnected
		}
		r, err := c.open(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", myErr.ErrConsumerDisconnected, err)
		}
		c.Reader = r
	}
	c.setState(StateConnected)

	return nil
}

// Consume - читает сообщения до отмены ctx.
// Каждое сообщение коммитится после обработки, даже неуспешной: повторов нет.
// Возвращает ErrConsumerDisconnected после MaxFetchFailures ошибок чтения подряд.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, Event) error) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.setState(StateSubscribed)

	maxFailures := c.MaxFetchFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFetchFailures
	}

	failures := 0
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}

			failures++
			c.Logger.Errorf("Failed to read message: %v", err)
			if failures >= maxFailures {
				c.setState(StateDisconnected)
				return fmt.Errorf("%w: %v", myErr.ErrConsumerDisconnected, err)
			}
			continue
		}
		failures = 0
		c.setState(StateConsuming)

		c.handle(ctx, msg, handler)

		if err := c.Reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Errorw("Failed to commit message", "partition", msg.Partition, "offset", msg.Offset, zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kgo.Message, handler func(context.Context, Event) error) {
	event, err := decodeEvent(msg)
	if err != nil {
		metrics.ObserveConsumed("invalid")
		c.Logger.Errorf("Failed to unmarshal event: %v", err)
		return
	}

	if err := handler(ctx, event); err != nil {
		metrics.ObserveConsumed("failure")
		c.Logger.Errorw("Failed to process event", "key", event.Key(), "offset", msg.Offset, zap.Error(err))
		return
	}

	metrics.ObserveConsumed("success")
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setState(StateDisconnected)
	if c.Reader == nil {
		return nil
	}

	return c.Reader.Close()
}
