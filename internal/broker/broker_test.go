package broker

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAcknowledger records acknowledgements of a delivery.
type fakeAcknowledger struct {
	acked    []uint64
	rejected map[uint64]bool
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	return f.Reject(tag, requeue)
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	if f.rejected == nil {
		f.rejected = map[uint64]bool{}
	}
	f.rejected[tag] = requeue
	return nil
}

func TestDelivery(t *testing.T) {
	ack := &fakeAcknowledger{}

	d := delivery{d: amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(`{"mapId":1}`)}}
	assert.Equal(t, `{"mapId":1}`, string(d.Body()))
	require.NoError(t, d.Ack())
	assert.Equal(t, []uint64{7}, ack.acked)

	d = delivery{d: amqp.Delivery{Acknowledger: ack, DeliveryTag: 8}}
	require.NoError(t, d.Reject(true))
	d = delivery{d: amqp.Delivery{Acknowledger: ack, DeliveryTag: 9}}
	require.NoError(t, d.Reject(false))
	assert.Equal(t, map[uint64]bool{8: true, 9: false}, ack.rejected)
}

func TestDial_InvalidURL(t *testing.T) {
	b, err := Dial(Config{URL: "not-a-url"}, nil)

	require.Error(t, err)
	assert.Nil(t, b)
	assert.True(t, Error.Has(err))
}
