package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisUserLockerMutualExclusion(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewRedisUserLocker(client, "admission_lock", time.Minute)
	ctx := context.Background()

	release, err := locker.Lock(ctx, 42)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(waitCtx, 42); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second lock should wait until deadline, got %v", err)
	}

	// A different user is unaffected.
	otherRelease, err := locker.Lock(ctx, 43)
	if err != nil {
		t.Fatalf("lock for other user: %v", err)
	}
	otherRelease()

	release()
	release2, err := locker.Lock(ctx, 42)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	release2()
}

func TestRedisUserLockerReleaseOnlyOwnLease(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisUserLocker(client, "admission_lock", 50*time.Millisecond)
	ctx := context.Background()

	firstRelease, err := locker.Lock(ctx, 7)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	// The first lease expires and another instance acquires the lock.
	mr.FastForward(time.Second)
	secondRelease, err := locker.Lock(ctx, 7)
	if err != nil {
		t.Fatalf("lock after expiry: %v", err)
	}
	defer secondRelease()

	// The stale holder's release must not free the new holder's lease.
	firstRelease()
	if !mr.Exists("admission_lock:7") {
		t.Fatal("stale release deleted a lease it no longer owned")
	}
}
