package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/MrWong99/moodsense/pkg/store/redis"
)

// testURL returns the Redis URL from the environment, or skips the test if
// MOODSENSE_TEST_REDIS_URL is not set.
func testURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("MOODSENSE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("MOODSENSE_TEST_REDIS_URL not set, skipping Redis integration tests")
	}
	return url
}

func TestKV_Integration(t *testing.T) {
	ctx := context.Background()
	kv, err := redis.Open(ctx, testURL(t), redis.WithPrefix("test:"+uuid.NewString()+":"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer kv.Close()

	if v, err := kv.Get(ctx, "steps", "-1"); err != nil || v != "-1" {
		t.Fatalf("Get absent = %q, %v", v, err)
	}
	if err := kv.Put(ctx, "steps", "120"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v, _ := kv.Get(ctx, "steps", "-1"); v != "120" {
		t.Errorf("Get = %q, want 120", v)
	}
}

func TestOpen_BadURL(t *testing.T) {
	if _, err := redis.Open(context.Background(), "not a url"); err == nil {
		t.Error("expected error for malformed URL")
	}
}
