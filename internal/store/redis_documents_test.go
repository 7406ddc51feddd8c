package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carzbazzar/api/internal/model"
)

// newTestRedis connects to a local Redis on DB 15 and skips when none is running.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("redis not available: %v", err)
	}

	rdb.FlushDB(context.Background())
	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	})
	return rdb
}

func TestRedisDocuments_CRUD(t *testing.T) {
	ctx := context.Background()
	docs := NewRedisDocuments(newTestRedis(t))

	docID, err := docs.Create(ctx, &model.Inspection{InspectionID: "ins_1", Status: model.InspectionStatusInspecting})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err = docs.Update(ctx, docID, map[string]any{
		"sections.Front.frontBumper.image": map[string]any{"url": "https://cdn/a.jpg"},
		"updatedAt":                        ServerTimestamp,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	ins, err := docs.Get(ctx, docID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	front, _ := ins.Sections["Front"].(map[string]any)
	bumper, _ := front["frontBumper"].(map[string]any)
	img, _ := bumper["image"].(map[string]any)
	if img["url"] != "https://cdn/a.jpg" {
		t.Errorf("unexpected sections: %v", ins.Sections)
	}

	list, err := docs.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}

	if err := docs.Delete(ctx, docID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := docs.Get(ctx, docID); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestRedisDocuments_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	docs := NewRedisDocuments(newTestRedis(t))

	docID, err := docs.Create(ctx, &model.Inspection{InspectionID: "ins_1"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	keys := []string{"Front.a", "Front.b", "Rear.c", "Engine.d"}
	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			if err := docs.Update(ctx, docID, map[string]any{"sections." + k + ".remark": k}); err != nil {
				t.Errorf("Update(%s) failed: %v", k, err)
			}
		}(k)
	}
	wg.Wait()

	ins, err := docs.Get(ctx, docID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	for _, group := range []string{"Front", "Rear", "Engine"} {
		if _, ok := ins.Sections[group]; !ok {
			t.Errorf("expected section group %s to survive concurrent updates: %v", group, ins.Sections)
		}
	}
}
