// Package catalogtest provides a shared conformance test suite for
// catalog.Store implementations. Each backend (memory, sqlite, file)
// wires this suite to verify it satisfies the full Store contract.
package catalogtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"warcreplay/internal/catalog"
)

func sampleRecord(name string) catalog.Record {
	return catalog.Record{
		Name: name,
		Type: catalog.TypeArchive,
		Config: catalog.Config{
			DBName:     "db:" + name,
			SourceURL:  "https://example.com/" + name + ".cdxj",
			SourceName: name + ".cdxj",
			CTime:      1700000000000,
			Metadata: catalog.Metadata{
				Title: "Title " + name,
				Size:  100,
				Extra: map[string]any{"creator": "tester"},
			},
			Headers:     map[string]string{"Authorization": "Bearer x"},
			ExtraConfig: map[string]any{"prefix": "https://example.com/"},
		},
	}
}

// TestStore runs the full conformance suite against a Store implementation.
// newStore must return a fresh, empty store for each sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) catalog.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		rec, err := s.Get(context.Background(), "nope")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec != nil {
			t.Fatalf("expected nil record, got %+v", rec)
		}
	})

	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Put(ctx, sampleRecord("a")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got == nil {
			t.Fatal("expected record, got nil")
		}
		if got.Type != catalog.TypeArchive {
			t.Errorf("Type: expected %q, got %q", catalog.TypeArchive, got.Type)
		}
		if got.Config.DBName != "db:a" {
			t.Errorf("DBName: expected %q, got %q", "db:a", got.Config.DBName)
		}
		if got.Config.CTime != 1700000000000 {
			t.Errorf("CTime: got %d", got.Config.CTime)
		}
		if got.Config.Metadata.Title != "Title a" || got.Config.Metadata.Size != 100 {
			t.Errorf("Metadata: got %+v", got.Config.Metadata)
		}
		if got.Config.Metadata.Extra["creator"] != "tester" {
			t.Errorf("Metadata extra: got %v", got.Config.Metadata.Extra)
		}
		if got.Config.Headers["Authorization"] != "Bearer x" {
			t.Errorf("Headers: got %v", got.Config.Headers)
		}
		if got.Config.ExtraConfig["prefix"] != "https://example.com/" {
			t.Errorf("ExtraConfig: got %v", got.Config.ExtraConfig)
		}
	})

	t.Run("PutReplaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec := sampleRecord("a")
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
		rec.Config.Metadata.Title = "renamed"
		rec.Config.Metadata.Size = 250
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put again: %v", err)
		}
		got, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Config.Metadata.Title != "renamed" || got.Config.Metadata.Size != 250 {
			t.Errorf("expected replaced metadata, got %+v", got.Config.Metadata)
		}
		all, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 1 {
			t.Errorf("expected 1 record, got %d", len(all))
		}
	})

	t.Run("AddConflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Add(ctx, sampleRecord("a")); err != nil {
			t.Fatalf("Add: %v", err)
		}
		dup := sampleRecord("a")
		dup.Config.Metadata.Title = "second"
		err := s.Add(ctx, dup)
		if !errors.Is(err, catalog.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		got, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Config.Metadata.Title != "Title a" {
			t.Errorf("Add overwrote existing record: %q", got.Config.Metadata.Title)
		}
	})

	t.Run("ConcurrentAdd", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const n = 8
		var ok, conflicts atomic.Int32
		var wg sync.WaitGroup
		for range n {
			wg.Go(func() {
				err := s.Add(ctx, sampleRecord("race"))
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, catalog.ErrConflict):
					conflicts.Add(1)
				default:
					t.Errorf("Add: %v", err)
				}
			})
		}
		wg.Wait()
		if ok.Load() != 1 || conflicts.Load() != n-1 {
			t.Errorf("expected 1 success and %d conflicts, got %d and %d", n-1, ok.Load(), conflicts.Load())
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Put(ctx, sampleRecord("a")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.Delete(ctx, "a"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		got, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != nil {
			t.Fatalf("expected nil after delete, got %+v", got)
		}
		if err := s.Delete(ctx, "a"); err != nil {
			t.Errorf("Delete of absent record: %v", err)
		}
		// The name is free again.
		if err := s.Add(ctx, sampleRecord("a")); err != nil {
			t.Errorf("Add after delete: %v", err)
		}
	})

	t.Run("ListOrdered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, name := range []string{"charlie", "alpha", "bravo"} {
			if err := s.Put(ctx, sampleRecord(name)); err != nil {
				t.Fatalf("Put %s: %v", name, err)
			}
		}
		all, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 records, got %d", len(all))
		}
		for i, want := range []string{"alpha", "bravo", "charlie"} {
			if all[i].Name != want {
				t.Errorf("List[%d]: expected %q, got %q", i, want, all[i].Name)
			}
		}
	})

	t.Run("ListByType", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i, typ := range []string{catalog.TypeArchive, catalog.TypeLive, catalog.TypeArchive, catalog.TypeRemoteWARCProxy} {
			rec := sampleRecord(fmt.Sprintf("c%d", i))
			rec.Type = typ
			if err := s.Put(ctx, rec); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}
		got, err := s.ListByType(ctx, catalog.TypeArchive)
		if err != nil {
			t.Fatalf("ListByType: %v", err)
		}
		if len(got) != 2 || got[0].Name != "c0" || got[1].Name != "c2" {
			t.Errorf("unexpected archive records: %+v", got)
		}
		got, err = s.ListByType(ctx, catalog.TypeRemoteProxy)
		if err != nil {
			t.Fatalf("ListByType: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no remoteproxy records, got %d", len(got))
		}
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Put(ctx, sampleRecord("a")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		got.Config.Headers["Authorization"] = "changed"
		got.Config.Metadata.Extra["creator"] = "changed"

		again, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if again.Config.Headers["Authorization"] != "Bearer x" {
			t.Errorf("store shares header map with caller")
		}
		if again.Config.Metadata.Extra["creator"] != "tester" {
			t.Errorf("store shares metadata map with caller")
		}
	})
}
