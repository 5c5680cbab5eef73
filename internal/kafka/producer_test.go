package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"reporting-etl/internal/app"
	myErr "reporting-etl/internal/types/errors"
	"reporting-etl/internal/types/metric"
)

// fakeWriter реализует WriterInterface и просто запоминает, какие сообщения ему передали.
type fakeWriter struct {
	mu           sync.Mutex
	lastMessages []kafka.Message
	writeCalls   int
	returnError  error
	closed       bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMessages = append(f.lastMessages, msgs...)
	f.writeCalls++
	return f.returnError
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testEvent() Event {
	return Event{
		MetricName:  "candidatesadded",
		MetricDate:  metric.MustParseDate("2025-01-02"),
		Region:      "APAC",
		MetricValue: 12,
		Currency:    "MYR",
		CreatedAt:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestProducer_SendEvent_Success(t *testing.T) {
	fw := &fakeWriter{}
	p := &Producer{
		Writer: fw,
		Logger: zaptest.NewLogger(t).Sugar(),
	}

	evt := testEvent()
	require.NoError(t, p.SendEvent(context.Background(), evt))
	require.Len(t, fw.lastMessages, 1)

	msg := fw.lastMessages[0]
	// ключ сообщения - натуральный ключ, чтобы исправления шли в ту же партицию
	assert.Equal(t, "candidatesadded|2025-01-02|region=APAC", string(msg.Key))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &raw))
	assert.Contains(t, raw, "target_value")
	assert.Nil(t, raw["target_value"])

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, evt.Key(), decoded.Key())
	assert.Equal(t, evt.MetricValue, decoded.MetricValue)
}

func TestProducer_SendEvent_WriteError(t *testing.T) {
	fw := &fakeWriter{returnError: errors.New("write failed")}
	p := &Producer{
		Writer: fw,
		Logger: zaptest.NewLogger(t).Sugar(),
	}

	assert.Error(t, p.SendEvent(context.Background(), testEvent()))

	// Publish ту же ошибку только логирует
	assert.NotPanics(t, func() { p.Publish(context.Background(), testEvent()) })
	assert.Len(t, fw.lastMessages, 2)
}

func TestProducer_LazyIdempotentConnect(t *testing.T) {
	fw := &fakeWriter{}
	var connects atomic.Int32

	p := &Producer{
		Logger: zaptest.NewLogger(t).Sugar(),
		connect: func(context.Context) (WriterInterface, error) {
			connects.Add(1)
			return fw, nil
		},
	}

	// до первой отправки соединения нет
	assert.Zero(t, connects.Load())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Publish(context.Background(), testEvent())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), connects.Load())
	assert.Len(t, fw.lastMessages, 10)

	require.NoError(t, p.Close())
	assert.True(t, fw.closed)
}

func TestProducer_ConnectFailureIsRetried(t *testing.T) {
	fw := &fakeWriter{}
	attempts := 0

	p := &Producer{
		Logger: zaptest.NewLogger(t).Sugar(),
		connect: func(context.Context) (WriterInterface, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("broker unreachable")
			}
			return fw, nil
		},
	}

	assert.Error(t, p.SendEvent(context.Background(), testEvent()))
	require.NoError(t, p.SendEvent(context.Background(), testEvent()))
	assert.Equal(t, 2, attempts)
	assert.Len(t, fw.lastMessages, 1)
}

func TestProducer_NotConnected(t *testing.T) {
	p := &Producer{Logger: zaptest.NewLogger(t).Sugar()}

	assert.ErrorIs(t, p.SendEvent(context.Background(), testEvent()), myErr.ErrProducerNotConnected)
	assert.NoError(t, p.Close())
}

func TestProducer_WithMockWriter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := NewMockWriterInterface(ctrl)
	gomock.InOrder(
		w.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Return(nil),
		w.EXPECT().Close().Return(nil),
	)

	p := &Producer{Writer: w, Logger: zaptest.NewLogger(t).Sugar()}
	require.NoError(t, p.SendEvent(context.Background(), testEvent()))
	require.NoError(t, p.Close())
}

func regionEvents(regions ...string) []Event {
	events := make([]Event, 0, len(regions))
	for _, region := range regions {
		evt := testEvent()
		evt.Region = region
		events = append(events, evt)
	}
	return events
}

func TestProducer_PublishBatch_SingleWrite(t *testing.T) {
	fw := &fakeWriter{}
	p := &Producer{Writer: fw, Logger: zaptest.NewLogger(t).Sugar()}

	p.PublishBatch(context.Background(), regionEvents("APAC", "EMEA", "AMER"))

	assert.Equal(t, 1, fw.writeCalls)
	require.Len(t, fw.lastMessages, 3)
	assert.Equal(t, "candidatesadded|2025-01-02|region=EMEA", string(fw.lastMessages[1].Key))
}

func TestProducer_PublishBatch_Failures(t *testing.T) {
	t.Run("partial write errors", func(t *testing.T) {
		fw := &fakeWriter{returnError: kafka.WriteErrors{nil, errors.New("leader not available"), nil}}
		p := &Producer{Writer: fw, Logger: zaptest.NewLogger(t).Sugar()}

		assert.NotPanics(t, func() {
			p.PublishBatch(context.Background(), regionEvents("APAC", "EMEA", "AMER"))
		})
		assert.Equal(t, 1, fw.writeCalls)
	})

	t.Run("connect failure writes nothing", func(t *testing.T) {
		fw := &fakeWriter{}
		p := &Producer{
			Logger: zaptest.NewLogger(t).Sugar(),
			connect: func(context.Context) (WriterInterface, error) {
				return nil, errors.New("broker unreachable")
			},
		}

		p.PublishBatch(context.Background(), regionEvents("APAC", "EMEA"))
		assert.Zero(t, fw.writeCalls)
	})

	t.Run("empty batch does not connect", func(t *testing.T) {
		connects := 0
		p := &Producer{
			Logger: zaptest.NewLogger(t).Sugar(),
			connect: func(context.Context) (WriterInterface, error) {
				connects++
				return &fakeWriter{}, nil
			},
		}

		p.PublishBatch(context.Background(), nil)
		assert.Zero(t, connects)
	})
}

func TestFactory_WriterAndReaderSettings(t *testing.T) {
	cfg := app.ConfigKafka{
		Brokers: []string{"localhost:9092"},
		Topic:   "etl.daily_metrics",
		GroupID: "etl-mysql-writer-group",
	}

	w, err := NewFactory(cfg).NewWriter()
	require.NoError(t, err)
	assert.Equal(t, defaultBatchTimeout, w.BatchTimeout)

	cfg.BatchTimeout = 10 * time.Millisecond
	w, err = NewFactory(cfg).NewWriter()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, w.BatchTimeout)

	r, err := NewFactory(cfg).NewReader()
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, kafka.LastOffset, r.Config().StartOffset)
	assert.Equal(t, "etl-mysql-writer-group", r.Config().GroupID)
}

func TestFactory_SASL(t *testing.T) {
	tests := []struct {
		mechanism string
		wantErr   bool
	}{
		{mechanism: "PLAIN"},
		{mechanism: "scram-sha-256"},
		{mechanism: "SCRAM-SHA-512"},
		{mechanism: "GSSAPI", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.mechanism, func(t *testing.T) {
			f := NewFactory(app.ConfigKafka{
				Brokers:       []string{"localhost:9092"},
				Username:      "etl",
				Password:      "secret",
				SASLMechanism: tt.mechanism,
				TLS:           true,
				Topic:         "etl.daily_metrics",
			})

			transport, err := f.Transport()
			if tt.wantErr {
				assert.ErrorIs(t, err, myErr.ErrUnsupportedSASL)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, transport.SASL)
			assert.NotNil(t, transport.TLS)

			w, err := f.NewWriter()
			require.NoError(t, err)
			assert.Equal(t, "etl.daily_metrics", w.Topic)
			assert.IsType(t, &kafka.Hash{}, w.Balancer)
		})
	}
}

func TestFactory_NoSASLWithoutUsername(t *testing.T) {
	f := NewFactory(app.ConfigKafka{SASLMechanism: "PLAIN"})

	dialer, err := f.Dialer()
	require.NoError(t, err)
	assert.Nil(t, dialer.SASLMechanism)
	assert.Nil(t, dialer.TLS)

	assert.Error(t, f.Ping(context.Background()))
}
