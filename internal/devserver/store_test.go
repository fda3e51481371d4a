package devserver

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"opus/pkg/domain"
)

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	jobs := []domain.Job{
		{ID: "j2", ConsumerUserID: "u1", Title: "second", Status: domain.JobOpen, CreatedAt: base.Add(time.Minute)},
		{ID: "j1", ConsumerUserID: "u1", Title: "first", Status: domain.JobOpen, CreatedAt: base},
		{ID: "j3", ConsumerUserID: "u2", Title: "other", Status: domain.JobCancelled, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, j := range jobs {
		if err := putDoc(ctx, st, kindJob, j.ID, index{OwnerID: j.ConsumerUserID, Status: string(j.Status), CreatedAt: j.CreatedAt}, j); err != nil {
			t.Fatalf("put %s: %v", j.ID, err)
		}
	}

	got, err := getDoc[domain.Job](ctx, st, kindJob, "j1")
	if err != nil || got.Title != "first" {
		t.Fatalf("get: %+v err=%v", got, err)
	}
	if _, err := getDoc[domain.Job](ctx, st, kindJob, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := getDoc[domain.Job](ctx, st, kindOffer, "j1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("kinds must not collide, got %v", err)
	}

	owned, err := findDocs[domain.Job](ctx, st, kindJob, Filter{OwnerID: "u1"})
	if err != nil || len(owned) != 2 || owned[0].ID != "j1" || owned[1].ID != "j2" {
		t.Fatalf("find by owner should be oldest first: %+v err=%v", owned, err)
	}
	open, err := findDocs[domain.Job](ctx, st, kindJob, Filter{Status: string(domain.JobOpen)})
	if err != nil || len(open) != 2 {
		t.Fatalf("find by status: %+v err=%v", open, err)
	}

	jobs[1].Status = domain.JobCancelled
	if err := putDoc(ctx, st, kindJob, "j1", index{OwnerID: "u1", Status: string(domain.JobCancelled), CreatedAt: base}, jobs[1]); err != nil {
		t.Fatalf("replace: %v", err)
	}
	cancelled, err := findDocs[domain.Job](ctx, st, kindJob, Filter{OwnerID: "u1", Status: string(domain.JobCancelled)})
	if err != nil || len(cancelled) != 1 || cancelled[0].ID != "j1" {
		t.Fatalf("replaced document should be re-indexed: %+v err=%v", cancelled, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesData(t *testing.T) {
	st := NewMemoryStore()
	data := []byte(`{"id":"a"}`)
	if err := st.Put(context.Background(), Document{Kind: kindJob, ID: "a", Data: data}); err != nil {
		t.Fatalf("put: %v", err)
	}
	data[2] = 'X'
	doc, err := st.Get(context.Background(), kindJob, "a")
	if err != nil || string(doc.Data) != `{"id":"a"}` {
		t.Fatalf("stored data changed with caller buffer: %s err=%v", doc.Data, err)
	}
}

func TestGormStore(t *testing.T) {
	dsn := os.Getenv("OPUS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("OPUS_TEST_DATABASE_URL not set")
	}
	st, err := NewGormStore(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.db.Exec("DELETE FROM dev_documents").Error
		_ = st.Close()
	})
	if err := st.db.Exec("DELETE FROM dev_documents").Error; err != nil {
		t.Fatalf("reset: %v", err)
	}
	exerciseStore(t, st)
}
