package orders

import (
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/money"
	"github.com/angelmondragon/intlshop-backend/pkg/types"
)

// OrderItemView is an order line as returned by the API.
type OrderItemView struct {
	SkuID     string `json:"sku_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

// OrderView is the API projection of an order. Amounts are decimal strings in
// the major unit of Currency.
type OrderView struct {
	OrderNo        string              `json:"order_no"`
	Status         enums.OrderStatus   `json:"status"`
	PayStatus      enums.PaymentStatus `json:"pay_status"`
	PayChannel     string              `json:"pay_channel"`
	Currency       enums.Currency      `json:"currency"`
	ItemsCount     int                 `json:"items_count"`
	TotalAmount    string              `json:"total_amount"`
	DiscountAmount string              `json:"discount_amount"`
	ShippingAmount string              `json:"shipping_amount"`
	TaxAmount      string              `json:"tax_amount"`
	PayAmount      string              `json:"pay_amount"`
	Address        types.Address       `json:"address"`
	AddressChanged bool                `json:"address_changed"`
	PayTime        *time.Time          `json:"pay_time,omitempty"`
	CancelReason   *string             `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Items          []OrderItemView     `json:"items"`
}

// NewOrderView formats an order for API responses.
func NewOrderView(order *models.Order) OrderView {
	cur := order.Currency
	view := OrderView{
		OrderNo:        order.OrderNo,
		Status:         order.Status,
		PayStatus:      order.PayStatus,
		PayChannel:     string(order.PayChannel),
		Currency:       cur,
		ItemsCount:     order.ItemsCount,
		TotalAmount:    money.FormatMajor(order.TotalAmount, cur),
		DiscountAmount: money.FormatMajor(order.DiscountAmount, cur),
		ShippingAmount: money.FormatMajor(order.ShippingAmount, cur),
		TaxAmount:      money.FormatMajor(order.TaxAmount, cur),
		PayAmount:      money.FormatMajor(order.PayAmount, cur),
		Address:        order.AddressSnapshot,
		AddressChanged: order.AddressChanged,
		PayTime:        order.PayTime,
		CancelReason:   order.CancelReason,
		CreatedAt:      order.CreatedAt,
		Items:          make([]OrderItemView, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, OrderItemView{
			SkuID:     item.SkuID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: money.FormatMajor(item.UnitPrice, cur),
			Subtotal:  money.FormatMajor(item.Subtotal, cur),
		})
	}
	return view
}
