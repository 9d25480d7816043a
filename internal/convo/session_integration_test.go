//go:build integration

package convo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Titusvirous/ToxicInfoBot/internal/cache"
	"github.com/Titusvirous/ToxicInfoBot/internal/logging"
)

// Run with: REDIS_TEST_ADDR=localhost:6379 go test -tags integration ./internal/convo
func TestRedisSessions(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx := context.Background()
	prefix := fmt.Sprintf("infobot_test_%d", time.Now().UnixNano())
	redis := cache.New(cache.Config{Addr: addr, Prefix: prefix}, logging.Discard())
	t.Cleanup(func() { _ = redis.Close() })
	if err := redis.Ping(ctx); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	store := NewRedisSessions(redis)

	if state, err := store.Get(ctx, 7); err != nil || state != nil {
		t.Fatalf("empty store returned %v, %v", state, err)
	}

	updated := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	want := FlowState{Flow: FlowCreditGrant, Step: 1, Scratch: Scratch{keyTarget: "42"}, UpdatedAt: updated}
	if err := store.Save(ctx, 7, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := redis.Client().TTL(ctx, prefix+":"+sessionKey(7)).Val(); ttl != -1 {
		t.Fatalf("session key should not expire, ttl=%s", ttl)
	}

	got, err := store.Get(ctx, 7)
	if err != nil || got == nil {
		t.Fatalf("get: %v, %v", got, err)
	}
	if got.Flow != want.Flow || got.Step != want.Step || got.Scratch[keyTarget] != "42" || !got.UpdatedAt.Equal(updated) {
		t.Fatalf("round trip lost state: %+v", got)
	}

	if err := store.Delete(ctx, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if state, err := store.Get(ctx, 7); err != nil || state != nil {
		t.Fatalf("state survived delete: %v, %v", state, err)
	}
}
