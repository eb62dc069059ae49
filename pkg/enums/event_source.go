package enums

// EventSource records which actor caused a status transition.
type EventSource string

const (
	EventSourceUser            EventSource = "USER"
	EventSourceSystem          EventSource = "SYSTEM"
	EventSourcePaymentCallback EventSource = "PAYMENT_CALLBACK"
	EventSourceCarrierCallback EventSource = "CARRIER_CALLBACK"
	EventSourceScheduler       EventSource = "SCHEDULER"
	EventSourceAdmin           EventSource = "ADMIN"
)

// InventoryChangeType is the kind of stock movement recorded in the ledger.
type InventoryChangeType string

const (
	InventoryReserve InventoryChangeType = "RESERVE"
	InventoryRelease InventoryChangeType = "RELEASE"
	InventoryRestock InventoryChangeType = "RESTOCK"
)
