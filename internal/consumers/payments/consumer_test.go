package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-ledger/internal/orders"
	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-ledger/pkg/errors"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
	"github.com/angelmondragon/marketplace-ledger/pkg/metrics"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox/payloads"
)

type fakeConfirmer struct {
	calls []orders.ConfirmPaymentInput
	err   error
}

func (f *fakeConfirmer) ConfirmPayment(_ context.Context, input orders.ConfirmPaymentInput) (*models.Order, error) {
	f.calls = append(f.calls, input)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{ID: input.OrderID, IsPaid: true}, nil
}

type fakeGuard struct {
	processed map[string]bool
	lookupErr error
}

func (f *fakeGuard) IsProcessed(_ context.Context, consumer, key string) (bool, error) {
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.processed[consumer+":"+key], nil
}

func (f *fakeGuard) MarkProcessed(_ context.Context, consumer, key string) (bool, error) {
	if f.processed[consumer+":"+key] {
		return false, nil
	}
	f.processed[consumer+":"+key] = true
	return true, nil
}

type fakeReceiver struct{}

func (fakeReceiver) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return nil
}

func newConsumer(t *testing.T, confirmer *fakeConfirmer, guard *fakeGuard) *Consumer {
	t.Helper()
	c, err := NewConsumer(fakeReceiver{}, confirmer, guard, NewDecoders(), metrics.NewConsumerMetrics(prometheus.NewRegistry()),
		logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard}))
	require.NoError(t, err)
	return c
}

func envelope(t *testing.T, eventID string, event payloads.PaymentConfirmedEvent) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: eventID, OccurredAt: time.Now().UTC(), Data: data})
	require.NoError(t, err)
	return body
}

var confirmedAttrs = map[string]string{"event_type": "payment_confirmed"}

func TestProcessConfirmsPaymentOnce(t *testing.T) {
	confirmer := &fakeConfirmer{}
	guard := &fakeGuard{processed: map[string]bool{}}
	c := newConsumer(t, confirmer, guard)

	event := payloads.PaymentConfirmedEvent{
		OrderID:          uuid.New(),
		BuyerID:          uuid.New(),
		PaymentReference: "pi_42",
		PaymentResult:    json.RawMessage(`{"status":"succeeded"}`),
	}
	body := envelope(t, "evt-1", event)

	assert.Equal(t, resultAck, c.process(context.Background(), "m1", confirmedAttrs, body))
	require.Len(t, confirmer.calls, 1)
	assert.Equal(t, event.OrderID, confirmer.calls[0].OrderID)
	assert.Equal(t, "pi_42", confirmer.calls[0].PaymentReference)
	assert.JSONEq(t, `{"status":"succeeded"}`, string(confirmer.calls[0].PaymentResult))

	assert.Equal(t, resultAck, c.process(context.Background(), "m2", confirmedAttrs, body))
	assert.Len(t, confirmer.calls, 1)
}

func TestProcessNacksRetryableFailureWithoutMarking(t *testing.T) {
	confirmer := &fakeConfirmer{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "settlement incomplete")}
	guard := &fakeGuard{processed: map[string]bool{}}
	c := newConsumer(t, confirmer, guard)
	body := envelope(t, "evt-2", payloads.PaymentConfirmedEvent{OrderID: uuid.New(), BuyerID: uuid.New()})

	assert.Equal(t, resultNack, c.process(context.Background(), "m", confirmedAttrs, body))
	assert.Empty(t, guard.processed)

	confirmer.err = nil
	assert.Equal(t, resultAck, c.process(context.Background(), "m", confirmedAttrs, body))
	assert.Len(t, confirmer.calls, 2)
	assert.True(t, guard.processed[ConsumerName+":evt-2"])
}

func TestProcessAcksPermanentFailure(t *testing.T) {
	confirmer := &fakeConfirmer{err: pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to buyer")}
	c := newConsumer(t, confirmer, &fakeGuard{processed: map[string]bool{}})
	body := envelope(t, "evt-3", payloads.PaymentConfirmedEvent{OrderID: uuid.New(), BuyerID: uuid.New()})

	assert.Equal(t, resultAck, c.process(context.Background(), "m", confirmedAttrs, body))
}

func TestProcessSkipsUnsupportedAndMalformed(t *testing.T) {
	confirmer := &fakeConfirmer{}
	c := newConsumer(t, confirmer, &fakeGuard{processed: map[string]bool{}})

	assert.Equal(t, resultSkipped, c.process(context.Background(), "m", map[string]string{"event_type": "order_paid"}, []byte(`{}`)))
	assert.Equal(t, resultSkipped, c.process(context.Background(), "m", map[string]string{}, []byte(`{}`)))
	assert.Equal(t, resultSkipped, c.process(context.Background(), "m", confirmedAttrs, []byte(`not json`)))
	assert.Equal(t, resultSkipped, c.process(context.Background(), "m", confirmedAttrs, []byte(`{"version":2,"eventId":"x","data":{}}`)))
	assert.Empty(t, confirmer.calls)
}

func TestProcessContinuesWhenGuardUnavailable(t *testing.T) {
	confirmer := &fakeConfirmer{}
	c := newConsumer(t, confirmer, &fakeGuard{processed: map[string]bool{}, lookupErr: errors.New("redis down")})
	body := envelope(t, "", payloads.PaymentConfirmedEvent{OrderID: uuid.New(), BuyerID: uuid.New()})

	assert.Equal(t, resultAck, c.process(context.Background(), "msg-id", confirmedAttrs, body))
	assert.Len(t, confirmer.calls, 1)
}
