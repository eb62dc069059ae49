package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Namespaces for inbound notification channels.
const (
	NamespacePaymentWebhook = "payment:webhook"
	NamespaceCarrierWebhook = "carrier:webhook"
)

const (
	markerProcessing = "PROCESSING"
	markerProcessed  = "PROCESSED"

	defaultProcessingTTL = 5 * time.Minute
)

// Result is the outcome of TryEnterProcessing.
type Result int

const (
	Entered Result = iota
	AlreadyProcessed
	ProcessingByOther
)

func (r Result) String() string {
	switch r {
	case Entered:
		return "ENTERED"
	case AlreadyProcessed:
		return "ALREADY_PROCESSED"
	case ProcessingByOther:
		return "PROCESSING_BY_OTHER"
	default:
		return "UNKNOWN"
	}
}

type store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DedupeKey(namespace, hash string) string
}

// Gate protects handlers against duplicate delivery of the same notification.
type Gate struct {
	store         store
	processingTTL time.Duration
}

// NewGate builds a replay gate backed by the provided key-value store.
func NewGate(s store, processingTTL time.Duration) (*Gate, error) {
	if s == nil {
		return nil, errors.New("dedupe store required")
	}
	if processingTTL <= 0 {
		processingTTL = defaultProcessingTTL
	}
	return &Gate{store: s, processingTTL: processingTTL}, nil
}

// KeyFor derives the marker key from the raw notification body.
func (g *Gate) KeyFor(namespace string, rawBody []byte) string {
	return g.store.DedupeKey(namespace, ContentHash(rawBody))
}

// ContentHash is the hex sha256 of body.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// TryEnterProcessing races on SETNX. Exactly one concurrent caller observes Entered.
func (g *Gate) TryEnterProcessing(ctx context.Context, key string, ttl time.Duration) (Result, error) {
	if ttl <= 0 {
		ttl = g.processingTTL
	}
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := g.store.SetNX(ctx, key, markerProcessing, ttl)
		if err != nil {
			return Entered, fmt.Errorf("setnx dedupe marker: %w", err)
		}
		if ok {
			return Entered, nil
		}
		value, err := g.store.Get(ctx, key)
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return Entered, fmt.Errorf("read dedupe marker: %w", err)
		}
		if value == markerProcessed {
			return AlreadyProcessed, nil
		}
		return ProcessingByOther, nil
	}
	return ProcessingByOther, nil
}

// MarkProcessed retains the marker for ttl to absorb replays.
func (g *Gate) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	if err := g.store.Set(ctx, key, markerProcessed, ttl); err != nil {
		return fmt.Errorf("mark dedupe processed: %w", err)
	}
	return nil
}

// ClearProcessing releases the marker so a retry can enter.
func (g *Gate) ClearProcessing(ctx context.Context, key string) error {
	if err := g.store.Del(ctx, key); err != nil {
		return fmt.Errorf("clear dedupe marker: %w", err)
	}
	return nil
}

// Guard runs fn at most once per key within replayTTL. AlreadyProcessed returns
// (AlreadyProcessed, nil) without calling fn; ProcessingByOther returns a
// CONFLICT error so the sender retries later. If fn fails or panics the
// marker is cleared before the error propagates.
func (g *Gate) Guard(ctx context.Context, key string, replayTTL time.Duration, fn func(ctx context.Context) error) (res Result, err error) {
	res, err = g.TryEnterProcessing(ctx, key, g.processingTTL)
	if err != nil {
		return res, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dedupe gate unavailable")
	}
	switch res {
	case AlreadyProcessed:
		return res, nil
	case ProcessingByOther:
		return res, pkgerrors.New(pkgerrors.CodeConflict, "notification is being processed").
			WithDetails(map[string]any{"dedupe_key": key})
	}

	defer func() {
		if r := recover(); r != nil {
			_ = g.ClearProcessing(context.WithoutCancel(ctx), key)
			panic(r)
		}
	}()

	if err = fn(ctx); err != nil {
		_ = g.ClearProcessing(context.WithoutCancel(ctx), key)
		return res, err
	}
	if markErr := g.MarkProcessed(ctx, key, replayTTL); markErr != nil {
		return res, pkgerrors.Wrap(pkgerrors.CodeDependency, markErr, "dedupe gate unavailable")
	}
	return res, nil
}
