package database

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/TheSeeker/Sone-sub000/internal/sone"
	"github.com/TheSeeker/Sone-sub000/internal/store"
)

// newTestDB creates a new in-memory database with the schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestSQLiteDatabase_KnownSets(t *testing.T) {
	ctx := context.Background()

	t.Run("empty database has empty sets", func(t *testing.T) {
		db := newTestDB(t)

		k, err := db.LoadKnown(ctx)
		if err != nil {
			t.Fatalf("LoadKnown() error = %v", err)
		}
		if len(k.Sones)+len(k.Posts)+len(k.Replies) != 0 {
			t.Errorf("LoadKnown() = %+v, want empty", k)
		}
	})

	t.Run("saved ids are loaded sorted", func(t *testing.T) {
		db := newTestDB(t)

		err := db.SaveKnown(ctx, store.KnownSets{
			Sones:   []string{"s2", "s1"},
			Posts:   []string{"p3", "p1", "p2"},
			Replies: []string{"r1"},
		})
		if err != nil {
			t.Fatalf("SaveKnown() error = %v", err)
		}

		k, err := db.LoadKnown(ctx)
		if err != nil {
			t.Fatalf("LoadKnown() error = %v", err)
		}
		want := store.KnownSets{
			Sones:   []string{"s1", "s2"},
			Posts:   []string{"p1", "p2", "p3"},
			Replies: []string{"r1"},
		}
		if !reflect.DeepEqual(k, want) {
			t.Errorf("LoadKnown() = %+v, want %+v", k, want)
		}
	})

	t.Run("saving again only adds", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.SaveKnown(ctx, store.KnownSets{Posts: []string{"p1", "p2"}}); err != nil {
			t.Fatalf("SaveKnown() error = %v", err)
		}
		if err := db.SaveKnown(ctx, store.KnownSets{Posts: []string{"p2", "p3"}}); err != nil {
			t.Fatalf("second SaveKnown() error = %v", err)
		}

		k, err := db.LoadKnown(ctx)
		if err != nil {
			t.Fatalf("LoadKnown() error = %v", err)
		}
		if want := []string{"p1", "p2", "p3"}; !reflect.DeepEqual(k.Posts, want) {
			t.Errorf("Posts = %v, want %v", k.Posts, want)
		}
	})

	t.Run("round trip through the store", func(t *testing.T) {
		db := newTestDB(t)

		s := store.NewMemoryStore()
		s.MarkSoneKnown("s1")
		s.MarkContentKnown([]string{"p1"}, []string{"r1", "r2"})
		if err := db.SaveKnown(ctx, s.Known()); err != nil {
			t.Fatalf("SaveKnown() error = %v", err)
		}

		k, err := db.LoadKnown(ctx)
		if err != nil {
			t.Fatalf("LoadKnown() error = %v", err)
		}
		restored := store.NewMemoryStore()
		restored.LoadKnown(k)
		if !restored.IsSoneKnown("s1") || !restored.IsPostKnown("p1") || !restored.IsReplyKnown("r2") {
			t.Errorf("restored store is missing known ids: %+v", restored.Known())
		}
	})
}

func TestSQLiteDatabase_LocalSones(t *testing.T) {
	ctx := context.Background()
	savedAt := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	t.Run("missing sone returns nil", func(t *testing.T) {
		db := newTestDB(t)

		got, err := db.LocalSone(ctx, "nobody")
		if err != nil {
			t.Fatalf("LocalSone() error = %v", err)
		}
		if got != nil {
			t.Errorf("LocalSone() = %+v, want nil", got)
		}
	})

	t.Run("save and load", func(t *testing.T) {
		db := newTestDB(t)

		ls := LocalSone{ID: "alice", Document: []byte("<sone/>"), Locked: true, SavedAt: savedAt}
		if err := db.SaveLocalSone(ctx, ls); err != nil {
			t.Fatalf("SaveLocalSone() error = %v", err)
		}

		got, err := db.LocalSone(ctx, "alice")
		if err != nil {
			t.Fatalf("LocalSone() error = %v", err)
		}
		if got == nil {
			t.Fatal("LocalSone() = nil")
		}
		if string(got.Document) != "<sone/>" || !got.Locked || !got.SavedAt.Equal(savedAt) {
			t.Errorf("LocalSone() = %+v", got)
		}
	})

	t.Run("save replaces the document", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.SaveLocalSone(ctx, LocalSone{ID: "alice", Document: []byte("v1"), Locked: true, SavedAt: savedAt}); err != nil {
			t.Fatalf("SaveLocalSone() error = %v", err)
		}
		if err := db.SaveLocalSone(ctx, LocalSone{ID: "alice", Document: []byte("v2"), SavedAt: savedAt.Add(time.Minute)}); err != nil {
			t.Fatalf("SaveLocalSone() error = %v", err)
		}

		all, err := db.LocalSones(ctx)
		if err != nil {
			t.Fatalf("LocalSones() error = %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("LocalSones() returned %d rows, want 1", len(all))
		}
		if string(all[0].Document) != "v2" || all[0].Locked {
			t.Errorf("LocalSones()[0] = %+v", all[0])
		}
	})

	t.Run("list is ordered by id", func(t *testing.T) {
		db := newTestDB(t)

		for _, id := range []string{"carol", "alice", "bob"} {
			if err := db.SaveLocalSone(ctx, LocalSone{ID: id, Document: []byte(id), SavedAt: savedAt}); err != nil {
				t.Fatalf("SaveLocalSone(%s) error = %v", id, err)
			}
		}

		all, err := db.LocalSones(ctx)
		if err != nil {
			t.Fatalf("LocalSones() error = %v", err)
		}
		var ids []string
		for _, ls := range all {
			ids = append(ids, ls.ID)
		}
		if want := []string{"alice", "bob", "carol"}; !reflect.DeepEqual(ids, want) {
			t.Errorf("ids = %v, want %v", ids, want)
		}
	})

	t.Run("delete removes sone and checkpoint", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.SaveLocalSone(ctx, LocalSone{ID: "alice", Document: []byte("x"), SavedAt: savedAt}); err != nil {
			t.Fatalf("SaveLocalSone() error = %v", err)
		}
		if err := db.SavePublishCheckpoint(ctx, sone.PublishCheckpoint{SoneID: "alice", Fingerprint: "f", Edition: 1}); err != nil {
			t.Fatalf("SavePublishCheckpoint() error = %v", err)
		}
		if err := db.DeleteLocalSone(ctx, "alice"); err != nil {
			t.Fatalf("DeleteLocalSone() error = %v", err)
		}

		if got, _ := db.LocalSone(ctx, "alice"); got != nil {
			t.Errorf("LocalSone() after delete = %+v", got)
		}
		if cp, _ := db.LoadPublishCheckpoint(ctx, "alice"); cp != nil {
			t.Errorf("LoadPublishCheckpoint() after delete = %+v", cp)
		}
	})
}

func TestSQLiteDatabase_PublishCheckpoints(t *testing.T) {
	ctx := context.Background()

	t.Run("missing checkpoint returns nil", func(t *testing.T) {
		db := newTestDB(t)

		cp, err := db.LoadPublishCheckpoint(ctx, "alice")
		if err != nil {
			t.Fatalf("LoadPublishCheckpoint() error = %v", err)
		}
		if cp != nil {
			t.Errorf("LoadPublishCheckpoint() = %+v, want nil", cp)
		}
	})

	t.Run("save and load", func(t *testing.T) {
		db := newTestDB(t)

		want := sone.PublishCheckpoint{SoneID: "alice", Fingerprint: "abc", Edition: 3, PublishedAt: 1700000000000}
		if err := db.SavePublishCheckpoint(ctx, want); err != nil {
			t.Fatalf("SavePublishCheckpoint() error = %v", err)
		}

		got, err := db.LoadPublishCheckpoint(ctx, "alice")
		if err != nil {
			t.Fatalf("LoadPublishCheckpoint() error = %v", err)
		}
		if got == nil || *got != want {
			t.Errorf("LoadPublishCheckpoint() = %+v, want %+v", got, want)
		}
	})

	t.Run("older edition does not overwrite", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.SavePublishCheckpoint(ctx, sone.PublishCheckpoint{SoneID: "alice", Fingerprint: "new", Edition: 5}); err != nil {
			t.Fatalf("SavePublishCheckpoint() error = %v", err)
		}
		if err := db.SavePublishCheckpoint(ctx, sone.PublishCheckpoint{SoneID: "alice", Fingerprint: "old", Edition: 4}); err != nil {
			t.Fatalf("SavePublishCheckpoint() error = %v", err)
		}

		got, err := db.LoadPublishCheckpoint(ctx, "alice")
		if err != nil {
			t.Fatalf("LoadPublishCheckpoint() error = %v", err)
		}
		if got.Fingerprint != "new" || got.Edition != 5 {
			t.Errorf("LoadPublishCheckpoint() = %+v, want edition 5", got)
		}
	})
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if err := db.SaveKnown(ctx, store.KnownSets{Posts: []string{"p1"}}); err != nil {
		t.Fatalf("SaveKnown() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	backup, err := NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer backup.Close()

	if err := backup.CheckMigrations(); err != nil {
		t.Errorf("backup CheckMigrations() error = %v", err)
	}
	k, err := backup.LoadKnown(ctx)
	if err != nil {
		t.Fatalf("LoadKnown() on backup error = %v", err)
	}
	if !reflect.DeepEqual(k.Posts, []string{"p1"}) {
		t.Errorf("backup Posts = %v, want [p1]", k.Posts)
	}
}
