//go:build integration

package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
	"github.com/Titusvirous/ToxicInfoBot/internal/logging"
)

// Run with: MONGO_TEST_URI=mongodb://localhost:27017 go test -tags integration ./internal/repo
func newTestMongo(t *testing.T) *MongoRepository {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	db := fmt.Sprintf("infobot_test_%d", time.Now().UnixNano())
	r, err := NewMongo(ctx, uri, db, logging.Discard())
	if err != nil {
		t.Fatalf("open mongo: %v", err)
	}
	t.Cleanup(func() {
		_ = r.client.Database(db).Drop(context.Background())
		r.Close()
	})
	if err := r.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return r
}

func TestMongoLedgerOperations(t *testing.T) {
	r := newTestMongo(t)
	ctx := context.Background()

	acc, created, err := r.InsertAccountIfAbsent(ctx, ledger.Account{ID: 1, Credits: 1, JoinedAt: time.Now().UTC()})
	if err != nil || !created || acc.Credits != 1 {
		t.Fatalf("insert: %+v %v %v", acc, created, err)
	}
	if _, created, err := r.InsertAccountIfAbsent(ctx, ledger.Account{ID: 1, Credits: 9}); err != nil || created {
		t.Fatalf("second insert created=%v err=%v", created, err)
	}

	if acc, err = r.DebitLookup(ctx, 1); err != nil || acc.Credits != 0 || acc.SearchCount != 1 {
		t.Fatalf("debit: %+v %v", acc, err)
	}
	if _, err := r.DebitLookup(ctx, 1); !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	if _, err := r.DebitLookup(ctx, 2); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if acc, err = r.RefundLookup(ctx, 1); err != nil || acc.Credits != 1 || acc.SearchCount != 0 {
		t.Fatalf("refund: %+v %v", acc, err)
	}
	if acc, err = r.RefundLookup(ctx, 1); err != nil || acc.SearchCount != 0 {
		t.Fatalf("refund below zero searches: %+v %v", acc, err)
	}

	if acc, err = r.ApplyReferral(ctx, 1, 1); err != nil || acc.ReferralCount != 1 || acc.ReferralCredits != 1 {
		t.Fatalf("referral: %+v %v", acc, err)
	}
	if n, err := r.CountAccounts(ctx); err != nil || n != 1 {
		t.Fatalf("count: %d %v", n, err)
	}
}

func TestMongoConcurrentDebit(t *testing.T) {
	r := newTestMongo(t)
	ctx := context.Background()
	if _, _, err := r.InsertAccountIfAbsent(ctx, ledger.Account{ID: 5, Credits: 3, JoinedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.DebitLookup(ctx, 5); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	acc, err := r.GetAccount(ctx, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok != 3 || acc.Credits != 0 || acc.SearchCount != 3 {
		t.Fatalf("ok=%d account=%+v", ok, acc)
	}
}
