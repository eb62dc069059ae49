package idempotency

import (
	"context"
	"fmt"
	"time"
)

type exampleStore struct {
	keys map[string]bool
}

func (s *exampleStore) Get(context.Context, string) (string, error) { return "", nil }

func (s *exampleStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

func (s *exampleStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.keys, k)
	}
	return nil
}

func (s *exampleStore) IdempotencyKey(scope, id string) string {
	return "intlshop:idempotency:" + scope + ":" + id
}

func ExampleManager_Claim() {
	ctx := context.Background()
	manager, _ := NewManager(&exampleStore{keys: map[string]bool{}}, 7*24*time.Hour)

	for i := 0; i < 2; i++ {
		claimed, _ := manager.Claim(ctx, "order-timeout", "f47ac10b-58cc-4372-a567-0e02b2c3d479")
		if claimed {
			fmt.Println("processing delivery")
			continue
		}
		fmt.Println("already processed")
	}
	// Output:
	// processing delivery
	// already processed
}
