package orders

import (
	"context"
	"strings"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var addressChangeStatuses = []enums.OrderStatus{
	enums.OrderStatusCreated,
	enums.OrderStatusPendingPayment,
	enums.OrderStatusPaid,
}

// ChangeAddress lets the owner replace the shipping address once. The Redis
// flag picks a single winner among concurrent requests and the
// address_changed column keeps the rule after the flag expires.
func (s *Service) ChangeAddress(ctx context.Context, orderNo string, userID uuid.UUID, address types.Address) (*models.Order, error) {
	if s.flags == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "address change store not configured")
	}
	address = address.Normalize()
	if address.Line1 == "" || address.Country == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address requires line1 and country")
	}

	order, err := s.FindOrderForUser(ctx, orderNo, userID)
	if err != nil {
		return nil, err
	}
	if order.AddressChanged {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "address already changed")
	}
	if !allowsAddressChange(order.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "address can no longer be changed").
			WithDetails(map[string]any{"status": order.Status})
	}

	key := s.flags.AddressChangeKey(order.OrderNo)
	won, err := s.flags.SetNX(ctx, key, userID.String(), s.addressChangeTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire address change flag")
	}
	if !won {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "address already changed")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		updated, err := repo.UpdateAddressOnce(ctx, order.ID, address, addressChangeStatuses)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update address")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeConflict, "address already changed or order moved on")
		}
		return s.AppendNoteTx(ctx, tx, order, userActor(userID), "address changed")
	})
	if err != nil {
		if delErr := s.flags.Del(context.WithoutCancel(ctx), key); delErr != nil {
			s.logg.Error(s.logg.WithOrderNo(ctx, order.OrderNo), "failed to clear address change flag", delErr)
		}
		return nil, err
	}

	order.AddressSnapshot = address
	order.AddressChanged = true
	logCtx := s.logg.WithOrderNo(ctx, order.OrderNo)
	s.logg.Info(s.logg.WithField(logCtx, "country", maskedCountry(address)), "order address changed")
	return order, nil
}

func allowsAddressChange(status enums.OrderStatus) bool {
	for _, candidate := range addressChangeStatuses {
		if candidate == status {
			return true
		}
	}
	return false
}

// maskedCountry keeps address logs free of street-level data.
func maskedCountry(address types.Address) string {
	return strings.ToUpper(address.Country)
}
