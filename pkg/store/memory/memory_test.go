package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/moodsense/pkg/store"
	"github.com/MrWong99/moodsense/pkg/store/memory"
)

func TestKV_GetDefaultAndPut(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()

	v, err := kv.Get(ctx, "text_emotion", "Unknown")
	if err != nil || v != "Unknown" {
		t.Fatalf("Get absent = %q, %v; want Unknown, nil", v, err)
	}
	if err := kv.Put(ctx, "text_emotion", "Happy"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v, _ := kv.Get(ctx, "text_emotion", "Unknown"); v != "Happy" {
		t.Errorf("Get = %q, want Happy", v)
	}
}

func TestKV_IntHelpers(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()

	n, err := store.GetInt(ctx, kv, "steps", -1)
	if err != nil || n != -1 {
		t.Fatalf("GetInt absent = %d, %v; want -1", n, err)
	}
	if err := store.PutInt(ctx, kv, "steps", 42); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.GetInt(ctx, kv, "steps", -1); n != 42 {
		t.Errorf("GetInt = %d, want 42", n)
	}
	_ = kv.Put(ctx, "steps", "garbage")
	if n, _ := store.GetInt(ctx, kv, "steps", -1); n != -1 {
		t.Errorf("GetInt on garbage = %d, want default -1", n)
	}
}

func TestKV_SetErr(t *testing.T) {
	kv := memory.NewKV()
	boom := errors.New("disk full")
	kv.SetErr(boom)
	if err := kv.Put(context.Background(), "k", "v"); !errors.Is(err, boom) {
		t.Errorf("Put err = %v, want %v", err, boom)
	}
}

func TestRemote_QueryLatest(t *testing.T) {
	ctx := context.Background()
	r := memory.NewRemote()

	if _, ok, err := r.QueryLatest(ctx, "text_emotions"); ok || err != nil {
		t.Fatalf("empty collection: ok=%v err=%v", ok, err)
	}

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	_ = r.Append(ctx, "text_emotions", store.Record{Emotion: "Sad", Timestamp: base.Add(2 * time.Minute)})
	_ = r.Append(ctx, "text_emotions", store.Record{Emotion: "Happy", Timestamp: base})

	rec, ok, err := r.QueryLatest(ctx, "text_emotions")
	if err != nil || !ok {
		t.Fatalf("QueryLatest: ok=%v err=%v", ok, err)
	}
	if rec.Emotion != "Sad" {
		t.Errorf("latest = %q, want Sad (greatest timestamp, not last appended)", rec.Emotion)
	}
}

func TestRemote_Profile(t *testing.T) {
	r := memory.NewRemote()
	if _, err := r.Profile(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	r.SetProfile(store.Profile{Age: 30, Gender: "female"})
	p, err := r.Profile(context.Background())
	if err != nil || p.Age != 30 || p.Gender != "female" {
		t.Errorf("Profile = %+v, %v", p, err)
	}
}
