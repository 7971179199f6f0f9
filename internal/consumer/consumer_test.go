package consumer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/maynagashev/beatmaps-cdn/internal/consumer"
	"github.com/maynagashev/beatmaps-cdn/internal/metrics"
	"github.com/maynagashev/beatmaps-cdn/internal/services"
	"github.com/maynagashev/beatmaps-cdn/models"
)

// MockApplier is a mock for consumer.Applier.
type MockApplier struct {
	mock.Mock
}

func (m *MockApplier) Apply(ctx context.Context, update models.CDNUpdate) error {
	return m.Called(ctx, update).Error(0)
}

// fakeMessage records how it was settled.
type fakeMessage struct {
	body     []byte
	acked    bool
	rejected bool
	requeued bool
}

func (m *fakeMessage) Body() []byte { return m.body }

func (m *fakeMessage) Ack() error {
	m.acked = true
	return nil
}

func (m *fakeMessage) Reject(requeue bool) error {
	m.rejected = true
	m.requeued = requeue
	return nil
}

type fakeSource struct {
	ch  chan consumer.Message
	err error
}

func (s *fakeSource) Messages(context.Context) (<-chan consumer.Message, error) {
	return s.ch, s.err
}

func TestConsumer_Handle(t *testing.T) {
	hash := "0123456789abcdef0123456789abcdef01234567"

	tests := []struct {
		name        string
		body        string
		mockSetup   func(a *MockApplier)
		wantAck     bool
		wantRequeue bool
		wantOutcome string
	}{
		{
			name: "applied",
			body: fmt.Sprintf(`{"mapId":1,"songName":"Foo","levelAuthorName":"Bar","deleted":false,"hash":%q,"published":true}`, hash),
			mockSetup: func(a *MockApplier) {
				a.On("Apply", mock.Anything, mock.MatchedBy(func(u models.CDNUpdate) bool {
					return u.MapID == 1 && u.Hash != nil && *u.Hash == hash &&
						u.Published != nil && *u.Published && u.HasNames()
				})).Return(nil).Once()
			},
			wantAck:     true,
			wantOutcome: metrics.OutcomeApplied,
		},
		{
			name:        "malformed json",
			body:        `{"mapId":`,
			mockSetup:   func(*MockApplier) {},
			wantOutcome: metrics.OutcomeRejected,
		},
		{
			name: "invalid event",
			body: `{"mapId":0,"deleted":true}`,
			mockSetup: func(a *MockApplier) {
				a.On("Apply", mock.Anything, models.CDNUpdate{Deleted: true}).
					Return(fmt.Errorf("%w: map id 0", services.ErrInvalidUpdate)).Once()
			},
			wantOutcome: metrics.OutcomeRejected,
		},
		{
			name: "store unavailable",
			body: `{"mapId":3,"deleted":true}`,
			mockSetup: func(a *MockApplier) {
				a.On("Apply", mock.Anything, models.CDNUpdate{MapID: 3, Deleted: true}).
					Return(services.ErrStoreUnavailable.New("connection refused")).Once()
			},
			wantRequeue: true,
			wantOutcome: metrics.OutcomeRequeued,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := new(MockApplier)
			tt.mockSetup(applier)
			m := metrics.New()
			c := consumer.New(&fakeSource{}, applier, zaptest.NewLogger(t), m,
				consumer.WithRetryDelay(time.Millisecond, time.Millisecond))

			msg := &fakeMessage{body: []byte(tt.body)}
			c.Handle(context.Background(), msg)

			assert.Equal(t, tt.wantAck, msg.acked)
			assert.Equal(t, !tt.wantAck, msg.rejected)
			assert.Equal(t, tt.wantRequeue, msg.requeued)
			assert.InDelta(t, 1, testutil.ToFloat64(m.SyncEvents.WithLabelValues(tt.wantOutcome)), 0)
			applier.AssertExpectations(t)
		})
	}
}

func TestConsumer_Handle_FinishesEventAfterCancel(t *testing.T) {
	applier := new(MockApplier)
	applier.On("Apply", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context) //nolint:errcheck // test setup
			assert.NoError(t, ctx.Err())
		}).
		Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := consumer.New(&fakeSource{}, applier, zaptest.NewLogger(t), metrics.New())
	msg := &fakeMessage{body: []byte(`{"mapId":1,"deleted":false}`)}
	c.Handle(ctx, msg)

	assert.True(t, msg.acked)
}

func TestConsumer_Handle_BacksOffWhileStoreFails(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	storeDown := services.ErrStoreUnavailable.New("connection refused")
	failing := `{"mapId":3,"deleted":true}`
	healthy := `{"mapId":4,"deleted":true}`

	applier := new(MockApplier)
	applier.On("Apply", mock.Anything, models.CDNUpdate{MapID: 3, Deleted: true}).Return(storeDown)
	applier.On("Apply", mock.Anything, models.CDNUpdate{MapID: 4, Deleted: true}).Return(nil)

	c := consumer.New(&fakeSource{}, applier, zap.New(core), metrics.New(),
		consumer.WithRetryDelay(time.Millisecond, 8*time.Millisecond))

	lastDelay := func() time.Duration {
		entries := logs.FilterMessage("sync event failed, requeueing").All()
		require.NotEmpty(t, entries)
		delay, ok := entries[len(entries)-1].ContextMap()["delay"].(time.Duration)
		require.True(t, ok)
		return delay
	}

	for range 8 {
		msg := &fakeMessage{body: []byte(failing)}
		c.Handle(context.Background(), msg)
		require.True(t, msg.requeued)
	}
	// grown to the cap, which is randomized by at most half
	assert.GreaterOrEqual(t, lastDelay(), 4*time.Millisecond)

	c.Handle(context.Background(), &fakeMessage{body: []byte(healthy)})
	c.Handle(context.Background(), &fakeMessage{body: []byte(failing)})
	assert.LessOrEqual(t, lastDelay(), 1500*time.Microsecond)
}

func TestConsumer_Handle_RequeuesImmediatelyOnShutdown(t *testing.T) {
	applier := new(MockApplier)
	applier.On("Apply", mock.Anything, mock.Anything).
		Return(services.ErrStoreUnavailable.New("connection refused")).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := consumer.New(&fakeSource{}, applier, zaptest.NewLogger(t), metrics.New(),
		consumer.WithRetryDelay(time.Hour, time.Hour))
	msg := &fakeMessage{body: []byte(`{"mapId":3,"deleted":true}`)}

	start := time.Now()
	c.Handle(ctx, msg)

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, msg.requeued)
}

func TestConsumer_Run_ProcessesInOrder(t *testing.T) {
	source := &fakeSource{ch: make(chan consumer.Message, 3)}
	var order []int
	applier := new(MockApplier)
	applier.On("Apply", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			order = append(order, args.Get(1).(models.CDNUpdate).MapID) //nolint:errcheck // test setup
		}).
		Return(nil)

	msgs := []*fakeMessage{
		{body: []byte(`{"mapId":1}`)},
		{body: []byte(`{"mapId":2}`)},
		{body: []byte(`{"mapId":3}`)},
	}
	for _, msg := range msgs {
		source.ch <- msg
	}
	close(source.ch)

	c := consumer.New(source, applier, zaptest.NewLogger(t), metrics.New())
	err := c.Run(context.Background())

	require.ErrorIs(t, err, consumer.ErrSourceClosed)
	assert.Equal(t, []int{1, 2, 3}, order)
	for _, msg := range msgs {
		assert.True(t, msg.acked)
	}
}

func TestConsumer_Run_StopsOnCancel(t *testing.T) {
	source := &fakeSource{ch: make(chan consumer.Message)}
	c := consumer.New(source, new(MockApplier), zaptest.NewLogger(t), metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumer_Run_SourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("channel closed")}
	c := consumer.New(source, new(MockApplier), zaptest.NewLogger(t), metrics.New())

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}
