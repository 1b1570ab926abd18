package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stridehq/stride/internal/db"
)

// fakeQueue records enqueued jobs instead of dispatching them.
type fakeQueue struct {
	jobs []fakeJob
}

type fakeJob struct {
	ID      string
	Topic   string
	Payload []byte
}

func (q *fakeQueue) Enqueue(ctx context.Context, topic string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	id := fmt.Sprintf("job-%d", len(q.jobs)+1)
	q.jobs = append(q.jobs, fakeJob{ID: id, Topic: topic, Payload: body})
	return id, nil
}

func newTestEngine(t *testing.T) (*Engine, *db.DB, *fakeQueue) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	q := &fakeQueue{}
	return New(database, q, nil), database, q
}

func insertUser(t *testing.T, d *db.DB, username string) int64 {
	t.Helper()
	id, err := d.InsertUser(&db.User{
		Username: username,
		Email:    username + "@example.com",
		Timezone: "UTC",
		Level:    1,
	})
	if err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	return id
}

func insertHabit(t *testing.T, d *db.DB, h *db.Habit) int64 {
	t.Helper()
	id, err := d.InsertHabit(h)
	if err != nil {
		t.Fatalf("InsertHabit: %v", err)
	}
	return id
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate %s: %v", s, err)
	}
	return d
}
