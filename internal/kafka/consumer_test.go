package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	myErr "reporting-etl/internal/types/errors"
)

// step - один результат FetchMessage: сообщение или ошибка
type step struct {
	msg kafka.Message
	err error
}

// fakeReader реализует ReaderInterface и отдаёт заранее подготовленные шаги.
// Когда шаги закончились, возвращает context.Canceled, чтобы Consumer.Consume вышел.
type fakeReader struct {
	steps     []step
	idx       int
	committed []kafka.Message
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if f.idx >= len(f.steps) {
		return kafka.Message{}, context.Canceled
	}
	s := f.steps[f.idx]
	f.idx++
	return s.msg, s.err
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func eventMessage(t *testing.T, offset int64) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(testEvent())
	require.NoError(t, err)
	return kafka.Message{Value: payload, Offset: offset}
}

func newTestConsumer(t *testing.T, r ReaderInterface) *Consumer {
	t.Helper()
	return &Consumer{
		Reader:           r,
		Logger:           zaptest.NewLogger(t).Sugar(),
		MaxFetchFailures: 3,
	}
}

func TestConsumer_Consume_ValidEvent(t *testing.T) {
	fr := &fakeReader{steps: []step{{msg: eventMessage(t, 1)}}}
	consumer := newTestConsumer(t, fr)

	var received []Event
	handler := func(ctx context.Context, e Event) error {
		received = append(received, e)
		return nil
	}

	require.NoError(t, consumer.Consume(context.Background(), handler))

	require.Len(t, received, 1)
	assert.Equal(t, testEvent().Key(), received[0].Key())
	assert.Nil(t, received[0].TargetValue)
	assert.Len(t, fr.committed, 1)
	assert.Equal(t, StateConsuming, consumer.State())
}

func TestConsumer_Consume_InvalidJSONIsCommitted(t *testing.T) {
	fr := &fakeReader{steps: []step{
		{msg: kafka.Message{Value: []byte(`{"metric_name": 123, bad json`), Offset: 1}},
		{msg: eventMessage(t, 2)},
	}}
	consumer := newTestConsumer(t, fr)

	calls := 0
	handler := func(ctx context.Context, e Event) error {
		calls++
		return nil
	}

	require.NoError(t, consumer.Consume(context.Background(), handler))

	// битое сообщение пропускается, но не блокирует следующее
	assert.Equal(t, 1, calls)
	assert.Len(t, fr.committed, 2)
}

func TestConsumer_Consume_HandlerErrorContinues(t *testing.T) {
	fr := &fakeReader{steps: []step{{msg: eventMessage(t, 1)}, {msg: eventMessage(t, 2)}}}
	consumer := newTestConsumer(t, fr)

	calls := 0
	handler := func(ctx context.Context, e Event) error {
		calls++
		return errors.New("simulated handler failure")
	}

	require.NoError(t, consumer.Consume(context.Background(), handler))
	assert.Equal(t, 2, calls)
	assert.Len(t, fr.committed, 2)
}

func TestConsumer_Consume_Disconnect(t *testing.T) {
	boom := errors.New("broker went away")

	t.Run("consecutive failures stop the loop", func(t *testing.T) {
		fr := &fakeReader{steps: []step{{err: boom}, {err: boom}, {err: boom}, {msg: eventMessage(t, 1)}}}
		consumer := newTestConsumer(t, fr)

		err := consumer.Consume(context.Background(), func(context.Context, Event) error { return nil })
		assert.ErrorIs(t, err, myErr.ErrConsumerDisconnected)
		assert.Equal(t, StateDisconnected, consumer.State())
		assert.Empty(t, fr.committed)
	})

	t.Run("a message resets the counter", func(t *testing.T) {
		fr := &fakeReader{steps: []step{
			{err: boom}, {err: boom}, {msg: eventMessage(t, 1)}, {err: boom}, {err: boom},
		}}
		consumer := newTestConsumer(t, fr)

		err := consumer.Consume(context.Background(), func(context.Context, Event) error { return nil })
		assert.NoError(t, err)
		assert.Len(t, fr.committed, 1)
	})
}

func TestConsumer_Consume_CancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	msg := eventMessage(t, 7)

	r := NewMockReaderInterface(ctrl)
	gomock.InOrder(
		r.EXPECT().FetchMessage(gomock.Any()).Return(msg, nil),
		r.EXPECT().CommitMessages(gomock.Any(), msg).DoAndReturn(func(context.Context, ...kafka.Message) error {
			cancel()
			return nil
		}),
		r.EXPECT().FetchMessage(gomock.Any()).Return(kafka.Message{}, errors.New("fetch aborted")),
		r.EXPECT().Close().Return(nil),
	)

	consumer := newTestConsumer(t, r)
	require.NoError(t, consumer.Consume(ctx, func(context.Context, Event) error { return nil }))
	require.NoError(t, consumer.Close())
	assert.Equal(t, StateDisconnected, consumer.State())
}

func TestConsumer_ConnectFailure(t *testing.T) {
	consumer := &Consumer{
		Logger: zaptest.NewLogger(t).Sugar(),
		open: func(context.Context) (ReaderInterface, error) {
			return nil, errors.New("no route to host")
		},
	}

	err := consumer.Consume(context.Background(), func(context.Context, Event) error { return nil })
	assert.ErrorIs(t, err, myErr.ErrConsumerDisconnected)
	assert.Equal(t, StateDisconnected, consumer.State())
	assert.NoError(t, consumer.Close())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "consuming", StateConsuming.String())
}
