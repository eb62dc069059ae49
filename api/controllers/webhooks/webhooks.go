package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/intlshop-backend/api/responses"
	"github.com/angelmondragon/intlshop-backend/internal/dedupe"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
)

const (
	ProviderSquare  = "square"
	ProviderCarrier = "carrier"

	SquareSignatureHeader  = "X-Square-Hmacsha256-Signature"
	CarrierSignatureHeader = "sign"

	maxWebhookBody = 1 << 20
)

// Handler verifies and applies one provider notification.
type Handler interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (dedupe.Result, error)
}

type deliveryRecorder interface {
	Observe(provider, result string)
}

// SquareWebhook receives payment and refund notifications.
func SquareWebhook(svc Handler, metrics deliveryRecorder, logg *logger.Logger) http.HandlerFunc {
	return webhook(ProviderSquare, SquareSignatureHeader, svc, metrics, logg)
}

// CarrierWebhook receives tracking pushes.
func CarrierWebhook(svc Handler, metrics deliveryRecorder, logg *logger.Logger) http.HandlerFunc {
	return webhook(ProviderCarrier, CarrierSignatureHeader, svc, metrics, logg)
}

func webhook(provider, header string, svc Handler, metrics deliveryRecorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithField(ctx, "provider", provider)
		}
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, provider+" webhook unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			observe(metrics, provider, pkgerrors.CodeValidation)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}
		signature := strings.TrimSpace(r.Header.Get(header))
		if signature == "" {
			observe(metrics, provider, pkgerrors.CodeUnauthorized)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing"))
			return
		}

		res, err := svc.HandleWebhook(ctx, payload, signature)
		if err != nil {
			code := pkgerrors.CodeInternal
			if typed := pkgerrors.As(err); typed != nil {
				code = typed.Code()
			}
			observe(metrics, provider, code)
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if metrics != nil {
			metrics.Observe(provider, strings.ToLower(res.String()))
		}
		responses.WriteSuccess(w, map[string]string{"result": res.String()})
	}
}

func observe(metrics deliveryRecorder, provider string, code pkgerrors.Code) {
	if metrics == nil {
		return
	}
	metrics.Observe(provider, strings.ToLower(string(code)))
}
