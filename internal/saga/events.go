package saga

// Topic names double as routing keys on the bus. Each participant
// subscribes to the topics it reacts to and publishes the next event
// in the saga; there is no central coordinator.
const (
	TopicOrderCreated     = "order.created"
	TopicStockReserved    = "stock.reserved"
	TopicStockRejected    = "stock.rejected"
	TopicPaymentSucceeded = "payment.succeeded"
	TopicPaymentFailed    = "payment.failed"
)

// Reason codes carried on rejection and failure events.
const (
	ReasonInsufficientStock = "INSUFFICIENT_STOCK"
	ReasonPaymentDeclined   = "PAYMENT_DECLINED"
)

// OrderCreated starts the saga.
type OrderCreated struct {
	OrderID  string  `json:"order_id"`
	SKU      string  `json:"sku"`
	Quantity int     `json:"quantity"`
	Amount   float64 `json:"amount"`
}

// StockReserved carries the reservation forward to the payment step.
// Amount is forwarded so the payment participant never reads the
// orchestrator's store.
type StockReserved struct {
	OrderID  string  `json:"order_id"`
	SKU      string  `json:"sku"`
	Quantity int     `json:"quantity"`
	Amount   float64 `json:"amount"`
}

// StockRejected terminates the saga before payment.
type StockRejected struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentSucceeded is the happy-path terminal event.
type PaymentSucceeded struct {
	OrderID string `json:"order_id"`
}

// PaymentFailed terminates the saga and triggers stock compensation.
type PaymentFailed struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
