package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type advisoryLockerStub struct {
	key      int64
	acquired bool
	unlocked bool
}

func (s *advisoryLockerStub) TryAdvisoryLock(ctx context.Context, key int64) (func(context.Context) error, bool, error) {
	s.key = key
	if !s.acquired {
		return nil, false, nil
	}
	return func(context.Context) error {
		s.unlocked = true
		return nil
	}, true, nil
}

func TestPostgresRunLockerUsesBillingKey(t *testing.T) {
	stub := &advisoryLockerStub{acquired: true}
	release, ok, err := NewPostgresRunLocker(stub).Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v", ok, err)
	}
	if stub.key != billingRunLockKey {
		t.Fatalf("expected key %d, got %d", billingRunLockKey, stub.key)
	}
	if err := release(context.Background()); err != nil || !stub.unlocked {
		t.Fatalf("release() error = %v, unlocked = %v", err, stub.unlocked)
	}
}

func TestPostgresRunLockerHeld(t *testing.T) {
	_, ok, err := NewPostgresRunLocker(&advisoryLockerStub{}).Acquire(context.Background())
	if err != nil || ok {
		t.Fatalf("expected lease to be unavailable, got %v, %v", ok, err)
	}
}

func TestNewRedisRunLockerDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	l := NewRedisRunLocker(client, " billing:lease: ", 0)
	if l.key != "billing:lease:recurring_run" {
		t.Fatalf("unexpected key %q", l.key)
	}
	if l.ttl != 30*time.Minute {
		t.Fatalf("unexpected ttl %s", l.ttl)
	}
	if NewRedisRunLocker(client, "", time.Minute).key != "billing:lease:recurring_run" {
		t.Fatal("expected default prefix")
	}
}

func TestRedisRunLockerReportsConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	_, ok, err := NewRedisRunLocker(client, "test", time.Minute).Acquire(context.Background())
	if err == nil || ok {
		t.Fatalf("expected connection error, got %v, %v", ok, err)
	}
	if !strings.Contains(err.Error(), "redis lease") {
		t.Fatalf("unexpected error %v", err)
	}
}
