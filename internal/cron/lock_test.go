package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryRedis() *memoryRedis { return &memoryRedis{data: map[string]string{}} }

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryRedis) LockKey(name string) string { return "intlshop:lock:" + name }

func TestRedisLockIsPerJob(t *testing.T) {
	store := newMemoryRedis()
	replicaA, err := NewRedisLock(store, "cron", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	replicaB, _ := NewRedisLock(store, "cron", time.Minute)
	ctx := context.Background()

	if ok, _ := replicaA.Acquire(ctx, "payment-sync"); !ok {
		t.Fatal("replica A should acquire payment-sync")
	}
	if ok, _ := replicaB.Acquire(ctx, "payment-sync"); ok {
		t.Fatal("replica B must not acquire a held job")
	}
	if ok, _ := replicaB.Acquire(ctx, "shipment-sync"); !ok {
		t.Fatal("replica B should acquire a different job")
	}
	if _, ok := store.data["intlshop:lock:cron:payment-sync"]; !ok {
		t.Fatalf("unexpected lock keys %v", store.data)
	}

	// B does not own payment-sync, so its release leaves A's key alone
	if err := replicaB.Release(ctx, "payment-sync"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := store.data["intlshop:lock:cron:payment-sync"]; !ok {
		t.Fatal("foreign release removed the key")
	}
	if err := replicaA.Release(ctx, "payment-sync"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := replicaB.Acquire(ctx, "payment-sync"); !ok {
		t.Fatal("payment-sync should be free after release")
	}
}

func TestRedisLockLeavesTakenOverKey(t *testing.T) {
	store := newMemoryRedis()
	lock, _ := NewRedisLock(store, "cron", time.Minute)
	ctx := context.Background()
	if ok, _ := lock.Acquire(ctx, "order-timeout"); !ok {
		t.Fatal("acquire")
	}
	// TTL lapsed and another replica took over
	store.data["intlshop:lock:cron:order-timeout"] = "someone-else"
	if err := lock.Release(ctx, "order-timeout"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.data["intlshop:lock:cron:order-timeout"] != "someone-else" {
		t.Fatal("release deleted a lock it no longer owned")
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "cron", 0); err == nil {
		t.Fatal("expected error without client")
	}
	if _, err := NewRedisLock(newMemoryRedis(), "", 0); err == nil {
		t.Fatal("expected error without scope")
	}
}
