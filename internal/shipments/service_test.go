package shipments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateShipmentLabelsAndRegistersOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, shipment := h.shipped(t, "LX100000001JP")

	assert.Equal(t, enums.ShipmentStatusLabelCreated, shipment.Status)
	assert.Equal(t, order.ID, shipment.OrderID)
	assert.Equal(t, order.AddressSnapshot.Country, shipment.ShipTo.Country)
	require.NotNil(t, shipment.CarrierCode)
	assert.Equal(t, "3011", *shipment.CarrierCode)
	assert.Equal(t, 1, h.carrier.registrations())

	// repeating the label entry never registers twice
	again, err := h.svc.CreateShipment(ctx, CreateShipmentInput{OrderNo: order.OrderNo, CarrierCode: "3011", TrackingNo: "LX100000001JP"})
	require.NoError(t, err)
	assert.Equal(t, shipment.ID, again.ID)
	assert.Equal(t, 1, h.carrier.registrations())

	rows := h.logs(t, shipment.ID)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].FromStatus)
	assert.Equal(t, enums.ShipmentStatusLabelCreated, rows[0].ToStatus)
	assert.Equal(t, "label:LX100000001JP", rows[0].SourceRef)
	assert.Equal(t, "carrier:registered:LX100000001JP", rows[1].SourceRef)
	assert.Equal(t, 1, h.moves(t, shipment.ID))
}

func TestCreateShipmentRequiresPaidOrder(t *testing.T) {
	h := newHarness(t)
	order := h.unpaidOrder(t)

	_, err := h.svc.CreateShipment(context.Background(), CreateShipmentInput{OrderNo: order.OrderNo, CarrierCode: "3011", TrackingNo: "LX-UNPAID"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Zero(t, h.carrier.registrations())

	_, err = h.svc.CreateShipment(context.Background(), CreateShipmentInput{OrderNo: order.OrderNo, TrackingNo: "LX-UNPAID"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateShipmentTrackingBelongsToOneOrder(t *testing.T) {
	h := newHarness(t)
	h.shipped(t, "LX-SHARED")
	other := h.paidOrder(t)

	_, err := h.svc.CreateShipment(context.Background(), CreateShipmentInput{OrderNo: other.OrderNo, CarrierCode: "3011", TrackingNo: "LX-SHARED"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestCreateShipmentRetriesFailedRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.paidOrder(t)

	h.carrier.registerErr = errors.New("carrier down")
	_, err := h.svc.CreateShipment(ctx, CreateShipmentInput{OrderNo: order.OrderNo, CarrierCode: "3011", TrackingNo: "LX-RETRY"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	// the label itself is kept; only registration is outstanding
	rows, err := h.svc.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	h.carrier.registerErr = nil
	shipment, err := h.svc.CreateShipment(ctx, CreateShipmentInput{OrderNo: order.OrderNo, CarrierCode: "3011", TrackingNo: "LX-RETRY"})
	require.NoError(t, err)
	assert.Equal(t, rows[0].ID, shipment.ID)
	assert.Equal(t, 1, h.carrier.registrations())
}

func TestCreateShipmentReusesPlaceholder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.paidOrder(t)

	placeholder, created, err := h.svc.EnsurePlaceholder(ctx, order.ID, enums.EventSourceScheduler, PlaceholderSourceRef)
	require.NoError(t, err)
	require.True(t, created)
	assert.Nil(t, placeholder.TrackingNo)

	shipment, err := h.svc.CreateShipment(ctx, CreateShipmentInput{OrderNo: order.OrderNo, CarrierCode: "190271", TrackingNo: "YT-PLACE"})
	require.NoError(t, err)
	assert.Equal(t, placeholder.ID, shipment.ID)
	assert.Equal(t, enums.ShipmentStatusLabelCreated, shipment.Status)
	require.NotNil(t, shipment.TrackingNo)
	assert.Equal(t, "YT-PLACE", *shipment.TrackingNo)
	assert.Equal(t, 2, h.moves(t, shipment.ID))
}

func TestEnsurePlaceholderIsIdempotentPerOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	paid := h.paidOrder(t)
	unpaid := h.unpaidOrder(t)

	pending, err := h.svc.ListOrdersWithoutShipment(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, paid.ID, pending[0].ID)

	first, created, err := h.svc.EnsurePlaceholder(ctx, paid.ID, enums.EventSourceScheduler, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, enums.ShipmentStatusCreated, first.Status)

	second, created, err := h.svc.EnsurePlaceholder(ctx, paid.ID, enums.EventSourceScheduler, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	rows := h.logs(t, first.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, PlaceholderSourceRef, rows[0].SourceRef)
	assert.Equal(t, enums.EventSourceScheduler, rows[0].EventSource)

	pending, err = h.svc.ListOrdersWithoutShipment(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, _, err = h.svc.EnsurePlaceholder(ctx, unpaid.ID, enums.EventSourceScheduler, "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestApplyCarrierEventProgressesAndFulfils(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, shipment := h.shipped(t, "LX-FLOW")

	pickedAt := testNow.Add(2 * time.Hour)
	result, err := h.svc.ApplyCarrierEvent(ctx, shipment.ID, CarrierEvent{
		SubStatus: "InTransit_PickedUp",
		EventTime: &pickedAt,
		Source:    enums.EventSourceCarrierCallback,
		SourceRef: "push-1",
	})
	require.NoError(t, err)
	assert.True(t, result.IsApplied())
	fresh := h.shipment(t, shipment.ID)
	require.NotNil(t, fresh.PickupTime)
	assert.True(t, fresh.PickupTime.Equal(pickedAt))

	assert.True(t, h.event(t, shipment.ID, "InTransit_Departure", "push-2"))
	assert.True(t, h.event(t, shipment.ID, "InTransit_CustomsProcessing", "push-3"))
	assert.True(t, h.event(t, shipment.ID, "InTransit_CustomsReleased", "push-4"))
	assert.True(t, h.event(t, shipment.ID, "OutForDelivery_Other", "push-5"))
	assert.Equal(t, enums.OrderStatusPaid, h.order(t, order.ID).Status)

	assert.True(t, h.event(t, shipment.ID, "Delivered_Other", "push-6"))
	fresh = h.shipment(t, shipment.ID)
	assert.Equal(t, enums.ShipmentStatusDelivered, fresh.Status)
	assert.NotNil(t, fresh.DeliveredTime)
	assert.Equal(t, enums.OrderStatusFulfilled, h.order(t, order.ID).Status)

	var events int64
	require.NoError(t, h.db.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", shipment.ID, enums.EventShipmentStatusChanged).
		Count(&events).Error)
	assert.Equal(t, int64(7), events, "label plus six carrier moves")

	// final: nothing moves a delivered parcel
	result, err = h.svc.ApplyCarrierEvent(ctx, shipment.ID, CarrierEvent{SubStatus: "Exception_Returned", Source: enums.EventSourceCarrierCallback, SourceRef: "push-7"})
	require.NoError(t, err)
	assert.True(t, result.IsRejected())
	assert.Equal(t, enums.ShipmentStatusDelivered, h.shipment(t, shipment.ID).Status)
}

func TestApplyCarrierEventDuplicateSourceRefIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, shipment := h.shipped(t, "LX-DUP")

	assert.True(t, h.event(t, shipment.ID, "InTransit_Departure", "push-dup"))
	before := len(h.logs(t, shipment.ID))

	result, err := h.svc.ApplyCarrierEvent(ctx, shipment.ID, CarrierEvent{SubStatus: "Delivered_Other", Source: enums.EventSourceCarrierCallback, SourceRef: "push-dup"})
	require.NoError(t, err)
	assert.True(t, result.IsNoOp())
	assert.Equal(t, enums.ShipmentStatusInTransit, h.shipment(t, shipment.ID).Status)
	assert.Len(t, h.logs(t, shipment.ID), before)

	// the same ref from another source is a different event
	result, err = h.svc.ApplyCarrierEvent(ctx, shipment.ID, CarrierEvent{SubStatus: "InTransit_Arrival", Source: enums.EventSourceScheduler, SourceRef: "push-dup"})
	require.NoError(t, err)
	assert.True(t, result.IsApplied())
}

func TestApplyCarrierEventKeepCurrentWritesTrailRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, shipment := h.shipped(t, "LX-KEEP")
	require.True(t, h.event(t, shipment.ID, "InTransit_Departure", "push-a"))

	result, err := h.svc.ApplyCarrierEvent(ctx, shipment.ID, CarrierEvent{
		SubStatus:  "Exception_Delayed",
		Source:     enums.EventSourceCarrierCallback,
		SourceRef:  "push-b",
		RawPayload: `{"sub_status":"Exception_Delayed"}`,
	})
	require.NoError(t, err)
	assert.True(t, result.IsNoOp())

	rows := h.logs(t, shipment.ID)
	last := rows[len(rows)-1]
	require.NotNil(t, last.FromStatus)
	assert.Equal(t, enums.ShipmentStatusInTransit, *last.FromStatus)
	assert.Equal(t, enums.ShipmentStatusInTransit, last.ToStatus)
	require.NotNil(t, last.SubStatus)
	assert.Equal(t, "Exception_Delayed", *last.SubStatus)
	require.NotNil(t, last.RawPayload)

	// NotFound_InvalidCode only escalates before the parcel moved
	result, err = h.svc.ApplyCarrierEvent(ctx, shipment.ID, CarrierEvent{SubStatus: "NotFound_InvalidCode", Source: enums.EventSourceCarrierCallback, SourceRef: "push-c"})
	require.NoError(t, err)
	assert.True(t, result.IsNoOp())
	assert.Equal(t, enums.ShipmentStatusInTransit, h.shipment(t, shipment.ID).Status)
}

func TestApplyCarrierEventRejectsBackwardsMove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, shipment := h.shipped(t, "LX-BACK")
	require.True(t, h.event(t, shipment.ID, "InTransit_Departure", "push-1"))
	require.True(t, h.event(t, shipment.ID, "OutForDelivery_Other", "push-2"))
	before := len(h.logs(t, shipment.ID))

	result, err := h.svc.ApplyCarrierEvent(ctx, shipment.ID, CarrierEvent{SubStatus: "InTransit_PickedUp", Source: enums.EventSourceCarrierCallback, SourceRef: "push-3"})
	require.NoError(t, err)
	assert.True(t, result.IsRejected())
	assert.NotEmpty(t, result.Reason)
	assert.Len(t, h.logs(t, shipment.ID), before, "rejected events leave no trail")
	assert.Equal(t, enums.ShipmentStatusOutForDelivery, h.shipment(t, shipment.ID).Status)
}

func TestExceptionIsAbsorbing(t *testing.T) {
	h := newHarness(t)
	_, shipment := h.shipped(t, "LX-EXC")
	require.True(t, h.event(t, shipment.ID, "NotFound_InvalidCode", "push-1"))
	assert.Equal(t, enums.ShipmentStatusException, h.shipment(t, shipment.ID).Status)

	assert.False(t, h.event(t, shipment.ID, "InTransit_Departure", "push-2"))
	assert.False(t, h.event(t, shipment.ID, "Delivered_Other", "push-3"))
	assert.Equal(t, enums.ShipmentStatusException, h.shipment(t, shipment.ID).Status)
}

func TestDeliveredLeavesRefundingOrderAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, shipment := h.shipped(t, "LX-REFUNDING")
	_, err := h.orders.RequestRefund(ctx, order.OrderNo, order.UserID, "changed my mind")
	require.NoError(t, err)

	assert.True(t, h.event(t, shipment.ID, "Delivered_Other", "push-1"))
	assert.Equal(t, enums.OrderStatusRefunding, h.order(t, order.ID).Status)
}

func TestSyncShipmentPollsCarrier(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, shipment := h.shipped(t, "LX-POLL")

	candidates, err := h.svc.ListSyncCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	h.carrier.script("LX-POLL", "InTransit_Departure", at)
	result, err := h.svc.SyncShipment(ctx, shipment.ID)
	require.NoError(t, err)
	assert.True(t, result.IsApplied())

	fresh := h.shipment(t, shipment.ID)
	assert.Equal(t, enums.ShipmentStatusInTransit, fresh.Status)
	assert.NotNil(t, fresh.LastPolledAt)
	rows := h.logs(t, shipment.ID)
	assert.Equal(t, "poll:2026-03-02T08:00:00Z:InTransit_Departure", rows[len(rows)-1].SourceRef)
	assert.Equal(t, enums.EventSourceScheduler, rows[len(rows)-1].EventSource)

	// an unchanged answer collapses onto the same trail row
	result, err = h.svc.SyncShipment(ctx, shipment.ID)
	require.NoError(t, err)
	assert.True(t, result.IsNoOp())
	assert.Len(t, h.logs(t, shipment.ID), len(rows))

	h.carrier.script("LX-POLL", "Delivered_Other", at.Add(48*time.Hour))
	_, err = h.svc.SyncShipment(ctx, shipment.ID)
	require.NoError(t, err)
	candidates, err = h.svc.ListSyncCandidates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates, "final shipments are no longer polled")

	result, err = h.svc.SyncShipment(ctx, shipment.ID)
	require.NoError(t, err)
	assert.True(t, result.IsNoOp())
}

func TestSyncShipmentSurfacesCarrierErrors(t *testing.T) {
	h := newHarness(t)
	_, shipment := h.shipped(t, "LX-DOWN")

	_, err := h.svc.SyncShipment(context.Background(), shipment.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.NotNil(t, h.shipment(t, shipment.ID).LastPolledAt)
}

func TestFailingShipmentDoesNotStarveNextCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.shipped(t, "LX-DOWN-1")
	h.shipped(t, "LX-DOWN-2")

	first, err := h.svc.ListSyncCandidates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	_, err = h.svc.SyncShipment(ctx, first[0].ID)
	require.Error(t, err)

	second, err := h.svc.ListSyncCandidates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestApplyCarrierEventValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ApplyCarrierEvent(context.Background(), uuid.New(), CarrierEvent{SubStatus: "Delivered_Other"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.ApplyCarrierEvent(context.Background(), uuid.New(), CarrierEvent{SubStatus: "Delivered_Other", SourceRef: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
