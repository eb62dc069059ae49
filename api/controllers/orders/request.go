package orders

import (
	"strings"

	internalorders "github.com/angelmondragon/intlshop-backend/internal/orders"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/money"
	"github.com/angelmondragon/intlshop-backend/pkg/types"
	"github.com/google/uuid"
)

const maxReasonLen = 500

// Amounts arrive as decimal strings in the major unit of the order currency.
type createOrderRequest struct {
	Currency       string        `json:"currency" validate:"required,len=3"`
	Items          []itemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	DiscountAmount string        `json:"discount_amount,omitempty"`
	ShippingAmount string        `json:"shipping_amount,omitempty"`
	TaxAmount      string        `json:"tax_amount,omitempty"`
	Address        types.Address `json:"address" validate:"required"`
}

type itemRequest struct {
	SkuID     string `json:"sku_id" validate:"required,max=64"`
	Title     string `json:"title" validate:"required,max=200"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=999"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

func (req createOrderRequest) toInput(userID uuid.UUID, idempotencyKey string) (internalorders.CreateOrderInput, error) {
	currency, err := enums.ParseCurrency(req.Currency)
	if err != nil {
		return internalorders.CreateOrderInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
	}
	input := internalorders.CreateOrderInput{
		UserID:         userID,
		IdempotencyKey: idempotencyKey,
		Currency:       string(currency),
		Address:        req.Address,
		Items:          make([]internalorders.ItemInput, 0, len(req.Items)),
	}
	for i, item := range req.Items {
		price, err := minor(item.UnitPrice, currency, "items.unit_price")
		if err != nil {
			return internalorders.CreateOrderInput{}, err.WithDetails(map[string]any{"field": "items.unit_price", "index": i})
		}
		input.Items = append(input.Items, internalorders.ItemInput{
			SkuID:     strings.TrimSpace(item.SkuID),
			Title:     strings.TrimSpace(item.Title),
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}
	if input.DiscountAmount, err = optionalMinor(req.DiscountAmount, currency, "discount_amount"); err != nil {
		return internalorders.CreateOrderInput{}, err
	}
	if input.ShippingAmount, err = optionalMinor(req.ShippingAmount, currency, "shipping_amount"); err != nil {
		return internalorders.CreateOrderInput{}, err
	}
	if input.TaxAmount, err = optionalMinor(req.TaxAmount, currency, "tax_amount"); err != nil {
		return internalorders.CreateOrderInput{}, err
	}
	return input, nil
}

func minor(raw string, currency enums.Currency, field string) (int64, *pkgerrors.Error) {
	value, err := money.ToMinor(strings.TrimSpace(raw), currency)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount").WithDetails(map[string]any{"field": field})
	}
	if value < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative").WithDetails(map[string]any{"field": field})
	}
	return value, nil
}

func optionalMinor(raw string, currency enums.Currency, field string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	value, err := minor(raw, currency, field)
	if err != nil {
		return 0, err
	}
	return value, nil
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type checkoutRequest struct {
	Channel  string `json:"channel" validate:"required"`
	SourceID string `json:"source_id" validate:"required,max=255"`
}

type confirmRefundRequest struct {
	// Amount is optional; the full refundable amount is used when omitted.
	Amount     string `json:"amount,omitempty"`
	ReasonCode string `json:"reason_code,omitempty" validate:"omitempty,oneof=CUSTOMER_REQUEST DUPLICATE FRAUD EXCEPTION OTHER"`
	Reason     string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type closeRequest struct {
	Note string `json:"note,omitempty" validate:"omitempty,max=500"`
}

type createShipmentRequest struct {
	CarrierCode string  `json:"carrier_code" validate:"required,max=32"`
	TrackingNo  string  `json:"tracking_no" validate:"required,max=64"`
	CustomsInfo *string `json:"customs_info,omitempty" validate:"omitempty,max=4000"`
}

type outcomeResponse struct {
	OrderNo string `json:"order_no"`
	Result  string `json:"result"`
}
