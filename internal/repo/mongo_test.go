package repo

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestMongoDebitOnlyMatchesFundedAccounts(t *testing.T) {
	filter := debitFilter(42)
	if filter["_id"] != int64(42) {
		t.Fatalf("filter does not target the account: %v", filter)
	}
	cond, ok := filter["credits"].(bson.M)
	if !ok || cond["$gte"] != int64(1) {
		t.Fatalf("debit must require at least one credit: %v", filter)
	}

	inc, ok := debitUpdate()["$inc"].(bson.M)
	if !ok || inc["credits"] != int64(-1) || inc["searches"] != int64(1) {
		t.Fatalf("unexpected debit update: %v", debitUpdate())
	}
}

func TestMongoRefundClampsSearches(t *testing.T) {
	pipeline := refundPipeline()
	if len(pipeline) != 1 || len(pipeline[0]) != 1 || pipeline[0][0].Key != "$set" {
		t.Fatalf("refund must be a single $set stage: %v", pipeline)
	}
	set, ok := pipeline[0][0].Value.(bson.M)
	if !ok {
		t.Fatalf("unexpected $set value %T", pipeline[0][0].Value)
	}

	credits, _ := set["credits"].(bson.M)
	add, _ := credits["$add"].(bson.A)
	if len(add) != 2 || add[0] != "$credits" || add[1] != int64(1) {
		t.Fatalf("refund must add one credit: %v", credits)
	}

	searches, _ := set["searches"].(bson.M)
	clamp, _ := searches["$max"].(bson.A)
	if len(clamp) != 2 || clamp[1] != int64(0) {
		t.Fatalf("search counter must be clamped at zero: %v", searches)
	}
	sub, _ := clamp[0].(bson.M)["$subtract"].(bson.A)
	if len(sub) != 2 || sub[0] != "$searches" || sub[1] != int64(1) {
		t.Fatalf("refund must remove one search: %v", clamp[0])
	}

	if _, err := bson.Marshal(bson.M{"u": pipeline}); err != nil {
		t.Fatalf("pipeline does not encode: %v", err)
	}
}

func TestMongoDocumentFieldNames(t *testing.T) {
	joined := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	raw, err := bson.Marshal(bson.M{
		"_id":            int64(7392785352),
		"first_name":     "Ravi",
		"username":       "ravi",
		"credits":        int64(4),
		"searches":       int64(3),
		"join_date":      joined,
		"referrals":      int64(2),
		"credits_earned": int64(2),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var doc accountDocument
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	acc := doc.toAccount()
	if acc.ID != 7392785352 || acc.DisplayName != "Ravi" || acc.Handle != "ravi" {
		t.Fatalf("identity fields not decoded: %+v", acc)
	}
	if acc.Credits != 4 || acc.SearchCount != 3 || acc.ReferralCount != 2 || acc.ReferralCredits != 2 {
		t.Fatalf("counters not decoded: %+v", acc)
	}
	if !acc.JoinedAt.Equal(joined) {
		t.Fatalf("join date = %s, want %s", acc.JoinedAt, joined)
	}

	out, err := bson.Marshal(accountDocument{ID: 1, FirstName: "A"})
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(out, &fields); err != nil {
		t.Fatalf("unmarshal fields: %v", err)
	}
	if _, ok := fields["username"]; ok {
		t.Fatal("empty username should be omitted")
	}
	for _, key := range []string{"_id", "first_name", "credits", "searches", "join_date", "referrals", "credits_earned"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("stored document lacks %q", key)
		}
	}
}
