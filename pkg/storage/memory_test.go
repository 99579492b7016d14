package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func sampleDocument() Document {
	return Document{
		Version:        DocumentVersion,
		FeatureVersion: 1,
		Samples: []Sample{
			{ServiceID: "defrag", DurationMs: 1200, Timestamp: time.Now(), Features: []float64{1, 2, 3}},
			{ServiceID: "scan", DurationMs: 800, Timestamp: time.Now(), Features: []float64{4, 5, 6}},
		},
		Models: map[string]ServiceModel{
			"defrag": {FeatureVersion: 1, TrainedAt: time.Now()},
		},
		MaxSamplesPerService: 50,
		SamplesSinceRetrain:  map[string]int{"defrag": 2},
		RetrainBatchSize:     5,
	}
}

func TestMemoryStore_LoadEmpty(t *testing.T) {
	store := NewMemoryStore()

	_, found, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if found {
		t.Error("Load() on a fresh store should report found=false")
	}
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	want := sampleDocument()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, found, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !found {
		t.Fatal("Load() after Save() should report found=true")
	}
	if got.Version != want.Version {
		t.Errorf("version = %d, want %d", got.Version, want.Version)
	}
	if len(got.Samples) != len(want.Samples) {
		t.Errorf("samples = %d, want %d", len(got.Samples), len(want.Samples))
	}
	if got.SamplesSinceRetrain["defrag"] != 2 {
		t.Errorf("counter = %d, want 2", got.SamplesSinceRetrain["defrag"])
	}
	if _, ok := got.Models["defrag"]; !ok {
		t.Error("model missing after round trip")
	}
}

func TestMemoryStore_SaveReplaces(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := sampleDocument()
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	second := Document{Version: DocumentVersion, FeatureVersion: 1}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, _, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(got.Samples) != 0 {
		t.Errorf("second Save() should replace, got %d samples", len(got.Samples))
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, Document{}); err == nil {
		t.Error("Save() with cancelled context should fail")
	}
	if _, _, err := store.Load(ctx); err == nil {
		t.Error("Load() with cancelled context should fail")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			doc := Document{Version: DocumentVersion, FeatureVersion: 1,
				Samples: []Sample{{ServiceID: fmt.Sprintf("svc-%d", i), DurationMs: 100}}}
			if err := store.Save(ctx, doc); err != nil {
				t.Errorf("concurrent Save() failed: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, _, err := store.Load(ctx); err != nil {
				t.Errorf("concurrent Load() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	_, found, err := store.Load(ctx)
	if err != nil || !found {
		t.Fatalf("Load() after concurrent saves: found=%v, err=%v", found, err)
	}
}
