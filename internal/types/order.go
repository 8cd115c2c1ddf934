package types

import (
	"github.com/moznion/go-optional"
)

// Side is the direction of an order submission.
type Side string

const (
	SideBuy     Side = "BUY"
	SideSell    Side = "SELL"
	SideFlatten Side = "FLATTEN"
)

// OrderStatus is the lifecycle state of a submitted order.
// Orders are immutable once FILLED or REJECTED.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
)

const (
	OrderReasonMargin      string = "margin"
	OrderReasonInvalidSize string = "invalid_size"
)

// Order is a single order event produced during a run. An order submitted
// while processing signal bar i fills at the open of bar i+1; forced closes
// at run end or cancellation fill at the close of the last processed bar.
type Order struct {
	// SubmittedAt is the time of the signal bar, epoch ms.
	SubmittedAt int64 `yaml:"submitted_at" json:"submitted_at"`
	// SubmittedBar is the signal bar index within the run's series.
	SubmittedBar int         `yaml:"submitted_bar" json:"submitted_bar"`
	Side         Side        `yaml:"side" json:"side"`
	Size         float64     `yaml:"size" json:"size"`
	Status       OrderStatus `yaml:"status" json:"status"`
	// FillTime/FillPrice/Fee are set only when the order reaches FILLED.
	FillTime  optional.Option[int64]   `yaml:"fill_time" json:"fill_time"`
	FillPrice optional.Option[float64] `yaml:"fill_price" json:"fill_price"`
	Fee       optional.Option[float64] `yaml:"fee" json:"fee"`
	// Reason is set on REJECTED orders.
	Reason optional.Option[string] `yaml:"reason" json:"reason"`
}
