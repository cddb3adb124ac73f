package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

func TestBus_DeliversInOrderAndSurvivesSinkErrors(t *testing.T) {
	bus := NewBus(2)
	var order []string

	bus.Subscribe(SinkFunc{SinkName: "first", Fn: func(ctx context.Context, e Event) error {
		order = append(order, "first:"+string(e.Type))
		return errors.New("boom")
	}})
	bus.Subscribe(SinkFunc{SinkName: "second", Fn: func(ctx context.Context, e Event) error {
		order = append(order, "second:"+string(e.Type))
		return nil
	}})

	bus.Publish(context.Background(), New(WorkOrderCreated, "api", map[string]interface{}{"id": 1}))
	assert.Equal(t, []string{"first:work_order.created", "second:work_order.created"}, order)
}

func TestBus_Recent(t *testing.T) {
	bus := NewBus(2)
	ctx := context.Background()

	bus.Publish(ctx, Event{Type: AssetCreated})
	bus.Publish(ctx, Event{Type: AssetUpdated})
	bus.Publish(ctx, Event{Type: AssetDeleted})

	recent := bus.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, AssetUpdated, recent[0].Type)
	assert.Equal(t, AssetDeleted, recent[1].Type)
	assert.NotEmpty(t, recent[1].ID, "publish assigns an id")
	assert.False(t, recent[1].Timestamp.IsZero())

	assert.Len(t, bus.Recent(1), 1)
}

func TestNew(t *testing.T) {
	e := New(PartLowStock, "inventory", nil)
	assert.NotEmpty(t, e.ID)
	assert.NotNil(t, e.Data)
	assert.Equal(t, "inventory", e.Source)
}

func TestKafkaProducer_Handle(t *testing.T) {
	writer := new(mockWriter)
	producer := &KafkaProducer{writer: writer, topic: "t"}
	event := New(MonitorTargetDown, "monitor", map[string]interface{}{"target": "api"})

	writer.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 {
			return false
		}
		var decoded Event
		if err := json.Unmarshal(msgs[0].Value, &decoded); err != nil {
			return false
		}
		return string(msgs[0].Key) == "monitor.target_down" &&
			decoded.ID == event.ID &&
			len(msgs[0].Headers) == 3
	})).Return(nil).Once()

	require.NoError(t, producer.Handle(context.Background(), event))
	writer.AssertExpectations(t)
}

func TestKafkaProducer_WriteFailureAndClose(t *testing.T) {
	writer := new(mockWriter)
	producer := &KafkaProducer{writer: writer}

	writer.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("no brokers")).Once()
	writer.On("Close").Return(nil).Once()

	err := producer.Handle(context.Background(), New(SystemEvent, "test", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers")

	require.NoError(t, producer.Close())
	assert.NoError(t, producer.Close())
	assert.Error(t, producer.Handle(context.Background(), New(SystemEvent, "test", nil)))
	writer.AssertExpectations(t)
}

func TestNewKafkaProducer_Defaults(t *testing.T) {
	producer := NewKafkaProducer(KafkaConfig{Async: true})
	w, ok := producer.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "chatterfix-events", w.Topic)
	assert.NotNil(t, w.Completion)
	assert.Equal(t, "kafka", producer.Name())
	assert.NoError(t, producer.Close())
}
