package store

import (
	"testing"
	"time"

	"github.com/mgirard/keepsake/internal/exchange"
	"github.com/mgirard/keepsake/internal/memory"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationsReachLatestVersion(t *testing.T) {
	db := testDB(t)
	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("schema version = %d, want %d", v, len(migrations))
	}
}

func TestOwnerRoundTrip(t *testing.T) {
	db := testDB(t)

	owner := &memory.Owner{
		Kind:           memory.KindHuman,
		Name:           "Dana",
		PrimaryPersona: "mira",
		Facts: []memory.Fact{{
			DataItem:   memory.DataItem{Name: "likes hiking", Description: "Hikes on weekends."},
			Confidence: 0.9,
		}},
	}
	if err := db.SaveOwner(owner); err != nil {
		t.Fatalf("save owner: %v", err)
	}
	if owner.UpdatedAt.IsZero() {
		t.Error("save did not stamp UpdatedAt")
	}

	got, err := db.LoadOwner(memory.KindHuman, "Dana")
	if err != nil {
		t.Fatalf("load owner: %v", err)
	}
	if got == nil {
		t.Fatal("load owner returned nil")
	}
	if got.PrimaryPersona != "mira" {
		t.Errorf("PrimaryPersona = %q, want %q", got.PrimaryPersona, "mira")
	}
	if f := got.FindFact("likes hiking"); f == nil || f.Confidence != 0.9 {
		t.Errorf("fact did not survive the round trip: %+v", f)
	}
}

func TestLoadOwnerNameIsCaseInsensitive(t *testing.T) {
	db := testDB(t)

	if err := db.SaveOwner(&memory.Owner{Kind: memory.KindHuman, Name: "Dana"}); err != nil {
		t.Fatalf("save owner: %v", err)
	}
	got, err := db.LoadOwner(memory.KindHuman, "dana")
	if err != nil {
		t.Fatalf("load owner: %v", err)
	}
	if got == nil {
		t.Fatal("lookup by differently-cased name found nothing")
	}
}

func TestLoadOwnerMissingIsNil(t *testing.T) {
	db := testDB(t)
	got, err := db.LoadOwner(memory.KindHuman, "nobody")
	if err != nil {
		t.Fatalf("load owner: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a missing owner, got %+v", got)
	}
}

func TestSaveOwnerOverwritesWholeRecord(t *testing.T) {
	db := testDB(t)

	owner := &memory.Owner{Kind: memory.KindPersona, Name: "mira", Description: "first"}
	if err := db.SaveOwner(owner); err != nil {
		t.Fatalf("save owner: %v", err)
	}
	owner.Description = "second"
	if err := db.SaveOwner(owner); err != nil {
		t.Fatalf("save owner again: %v", err)
	}

	got, err := db.LoadOwner(memory.KindPersona, "mira")
	if err != nil {
		t.Fatalf("load owner: %v", err)
	}
	if got.Description != "second" {
		t.Errorf("Description = %q, want %q", got.Description, "second")
	}
}

func TestListPersonas(t *testing.T) {
	db := testDB(t)

	for _, o := range []*memory.Owner{
		{Kind: memory.KindHuman, Name: "Dana"},
		{Kind: memory.KindPersona, Name: "mira"},
		{Kind: memory.KindPersona, Name: "vee"},
	} {
		if err := db.SaveOwner(o); err != nil {
			t.Fatalf("save owner %s: %v", o.Name, err)
		}
	}

	personas, err := db.ListPersonas()
	if err != nil {
		t.Fatalf("list personas: %v", err)
	}
	if len(personas) != 2 {
		t.Fatalf("got %d personas, want 2", len(personas))
	}
}

func TestExchangesRecentAndSince(t *testing.T) {
	db := testDB(t)
	base := time.Now().UTC().Add(-time.Hour)

	for i, content := range []string{"first", "second", "third"} {
		msg := &exchange.Message{
			Persona:     "mira",
			SpeakerKind: memory.KindHuman,
			SpeakerName: "Dana",
			Content:     content,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.AppendExchange(msg); err != nil {
			t.Fatalf("append exchange: %v", err)
		}
		if msg.ID == 0 {
			t.Error("append did not backfill the message id")
		}
	}

	recent, err := db.RecentExchanges("mira", 2)
	if err != nil {
		t.Fatalf("recent exchanges: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d messages, want 2", len(recent))
	}
	if recent[0].Content != "second" || recent[1].Content != "third" {
		t.Errorf("recent window wrong: %q, %q", recent[0].Content, recent[1].Content)
	}

	since, err := db.ExchangesSince("mira", base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("exchanges since: %v", err)
	}
	if len(since) != 1 || since[0].Content != "third" {
		t.Errorf("since cutoff wrong: %+v", since)
	}

	other, err := db.RecentExchanges("vee", 10)
	if err != nil {
		t.Fatalf("recent exchanges: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("conversations must not leak across personas: %+v", other)
	}
}

func TestHistoryBumpAndReset(t *testing.T) {
	db := testDB(t)
	ref := memory.OwnerRef{Kind: memory.KindHuman, Name: "Dana"}

	h, err := db.GetHistory(ref, memory.TypeFact)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if h.MessagesSince != 0 || h.TotalExtractions != 0 {
		t.Errorf("missing history should read as zero, got %+v", h)
	}

	for i := 0; i < 3; i++ {
		if err := db.BumpMessageCounters(ref); err != nil {
			t.Fatalf("bump counters: %v", err)
		}
	}
	h, err = db.GetHistory(ref, memory.TypeFact)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if h.MessagesSince != 3 {
		t.Errorf("MessagesSince = %d, want 3", h.MessagesSince)
	}

	at := time.Now().UTC()
	if err := db.RecordExtraction(ref, memory.TypeFact, at); err != nil {
		t.Fatalf("record extraction: %v", err)
	}
	h, err = db.GetHistory(ref, memory.TypeFact)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if h.MessagesSince != 0 {
		t.Errorf("MessagesSince = %d after extraction, want 0", h.MessagesSince)
	}
	if h.TotalExtractions != 1 {
		t.Errorf("TotalExtractions = %d, want 1", h.TotalExtractions)
	}

	// Other types keep their counters.
	h, err = db.GetHistory(ref, memory.TypeTrait)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if h.MessagesSince != 3 {
		t.Errorf("trait MessagesSince = %d, want 3", h.MessagesSince)
	}
}
