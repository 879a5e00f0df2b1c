package app

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TheSeeker/Sone-sub000/internal/config"
	"github.com/TheSeeker/Sone-sub000/internal/sone"
	"github.com/TheSeeker/Sone-sub000/internal/testutil"
)

var (
	alice = testutil.LocalIdentity("alice")
	bob   = testutil.RemoteIdentity("bob")
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig(base)
	cfg.Substrate = config.SubstrateConfig{Type: "memory"}
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(base, "db")}
	cfg.Identities = []config.IdentityConfig{
		{ID: alice.ID, Name: alice.Name, RequestAddress: alice.RequestAddress, InsertAddress: alice.InsertAddress, Local: true},
		{ID: bob.ID, Name: bob.Name, RequestAddress: bob.RequestAddress},
	}
	cfg.Publish.PollInterval = config.Duration{Duration: 5 * time.Millisecond}
	cfg.Publish.DebounceInterval = config.Duration{Duration: 20 * time.Millisecond}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, operation string) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, operation)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{
			name:   "unknown substrate",
			mutate: func(c *config.Config) { c.Substrate.Type = "carrier-pigeon" },
		},
		{
			name:   "unknown log level",
			mutate: func(c *config.Config) { c.LogLevel = "loud" },
		},
		{
			name: "duplicate identity",
			mutate: func(c *config.Config) {
				c.Identities = append(c.Identities, c.Identities[0])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			if _, err := New(context.Background(), cfg, "Test"); err == nil {
				t.Fatal("New() error = nil, want error")
			}
		})
	}
}

func TestNew_AddsDirectoryIdentities(t *testing.T) {
	a := newTestApp(t, testConfig(t), "Test")
	defer a.Close()

	for _, identity := range []sone.Identity{alice, bob} {
		s, ok := a.Store().Sone(identity.ID)
		if !ok {
			t.Fatalf("sone %s not in store", identity.Name)
		}
		if s.Local != identity.Local {
			t.Errorf("sone %s Local = %v, want %v", identity.Name, s.Local, identity.Local)
		}
	}
	if got := a.Store().LocalSoneIDs(); len(got) != 1 || got[0] != alice.ID {
		t.Errorf("LocalSoneIDs() = %v, want [%s]", got, alice.ID)
	}
}

func TestResolveLocal(t *testing.T) {
	a := newTestApp(t, testConfig(t), "Test")
	defer a.Close()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "only local identity", input: "", want: alice.ID},
		{name: "by id", input: alice.ID, want: alice.ID},
		{name: "by name", input: "alice", want: alice.ID},
		{name: "remote identity", input: bob.ID, wantErr: true},
		{name: "unknown identity", input: "carol", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ResolveLocal(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveLocal(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, sone.ErrPrecondition) {
					t.Errorf("ResolveLocal(%q) error = %v, want ErrPrecondition", tt.input, err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ResolveLocal(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMutations_PersistAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)

	a := newTestApp(t, cfg, "CreatePost")
	post, err := a.CreatePost(alice.ID, bob.ID, "hello world")
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if _, err := a.CreateReply(alice.ID, post.ID, "first!"); err != nil {
		t.Fatalf("CreateReply() error = %v", err)
	}
	if err := a.LikePost(alice.ID, post.ID); err != nil {
		t.Fatalf("LikePost() error = %v", err)
	}
	if err := a.UpdateProfile(alice.ID, func(p *sone.Profile) error {
		p.FirstName = "Alice"
		return nil
	}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	a.SetLocked(alice.ID, true)
	if !a.Operation().Mutating() {
		t.Error("operation not marked mutating")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b := newTestApp(t, cfg, "Export")
	defer b.Close()

	posts := b.Store().PostsBySone(alice.ID)
	if len(posts) != 1 {
		t.Fatalf("PostsBySone() = %d posts, want 1", len(posts))
	}
	if posts[0].ID != post.ID || posts[0].Text != "hello world" || posts[0].RecipientID != bob.ID {
		t.Errorf("loaded post = %+v, want %+v", posts[0], post)
	}
	if replies := b.Store().RepliesByPost(post.ID); len(replies) != 1 || replies[0].Text != "first!" {
		t.Errorf("RepliesByPost() = %+v, want one reply", replies)
	}
	if !b.Store().IsPostLiked(alice.ID, post.ID) {
		t.Error("post like not restored")
	}
	if p, _ := b.Store().Profile(alice.ID); p.FirstName != "Alice" {
		t.Errorf("FirstName = %q, want %q", p.FirstName, "Alice")
	}
	if !b.Store().IsLocked(alice.ID) {
		t.Error("lock not restored")
	}

	data, err := b.Export(alice.ID)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.Contains(string(data), "hello world") {
		t.Errorf("exported document does not contain the post: %s", data)
	}
}

func TestSave_KeepsUnpublishedContent(t *testing.T) {
	cfg := testConfig(t)

	a := newTestApp(t, cfg, "UpdateProfile")
	album := sone.Album{ID: "A1", SoneID: alice.ID, Title: "drafts"}
	if err := a.Store().StoreAlbum(album); err != nil {
		t.Fatalf("StoreAlbum() error = %v", err)
	}
	image := sone.Image{ID: "I1", SoneID: alice.ID, AlbumID: "A1", CreationTime: time.UnixMilli(5).UTC(), Title: "pending", Width: 4, Height: 3}
	if err := a.Store().StoreImage(image); err != nil {
		t.Fatalf("StoreImage() error = %v", err)
	}
	if err := a.Store().StorePost(sone.Post{ID: "P1", SoneID: alice.ID, RecipientID: "short", Time: time.UnixMilli(7).UTC(), Text: "hi"}); err != nil {
		t.Fatalf("StorePost() error = %v", err)
	}
	if err := a.UpdateProfile(alice.ID, func(p *sone.Profile) error {
		p.AvatarID = "I1"
		return nil
	}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b := newTestApp(t, cfg, "Export")
	defer b.Close()

	if _, ok := b.Store().Album("A1"); !ok {
		t.Error("album without published images was not restored")
	}
	got, ok := b.Store().Image("I1")
	if !ok {
		t.Fatal("image without key was not restored")
	}
	if got.Key != "" || got.Title != "pending" || got.Width != 4 {
		t.Errorf("restored image = %+v, want %+v", got, image)
	}
	if p, _ := b.Store().Profile(alice.ID); p.AvatarID != "I1" {
		t.Errorf("AvatarID = %q, want %q", p.AvatarID, "I1")
	}
	if p, ok := b.Store().Post("P1"); !ok || p.RecipientID != "short" {
		t.Errorf("restored post = %+v, want recipient %q", p, "short")
	}

	data, err := b.Export(alice.ID)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if strings.Contains(string(data), "<album>") {
		t.Errorf("exported document contains an unpublished album: %s", data)
	}
}

func TestCreatePost_InvalidRecipient(t *testing.T) {
	a := newTestApp(t, testConfig(t), "CreatePost")
	defer a.Close()

	if _, err := a.CreatePost(alice.ID, "bob", "hi"); !errors.Is(err, sone.ErrPrecondition) {
		t.Errorf("CreatePost() error = %v, want ErrPrecondition", err)
	}
}

func TestClose_FailedOperationDoesNotSave(t *testing.T) {
	cfg := testConfig(t)

	a := newTestApp(t, cfg, "CreatePost")
	if _, err := a.CreatePost(alice.ID, "", "never saved"); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	a.Fail()
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b := newTestApp(t, cfg, "Export")
	defer b.Close()
	if posts := b.Store().PostsBySone(alice.ID); len(posts) != 0 {
		t.Errorf("PostsBySone() = %d posts, want 0", len(posts))
	}
}

func TestLikePost_UnknownPost(t *testing.T) {
	a := newTestApp(t, testConfig(t), "LikePost")
	defer a.Close()

	err := a.LikePost(alice.ID, "no-such-post")
	if !errors.Is(err, sone.ErrPrecondition) {
		t.Errorf("LikePost() error = %v, want ErrPrecondition", err)
	}
}

func TestSave_KeepsVersionSavedByAnotherProcess(t *testing.T) {
	cfg := testConfig(t)

	daemon := newTestApp(t, cfg, "Run")
	defer daemon.Close()

	cli := newTestApp(t, cfg, "CreatePost")
	post, err := cli.CreatePost(alice.ID, "", "from the cli")
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if err := cli.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ctx := context.Background()
	if err := daemon.Save(ctx); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := daemon.reloadLocal(ctx); err != nil {
		t.Fatalf("reloadLocal() error = %v", err)
	}

	posts := daemon.Store().PostsBySone(alice.ID)
	if len(posts) != 1 || posts[0].ID != post.ID {
		t.Errorf("PostsBySone() = %+v, want the post created by the cli", posts)
	}
}

func TestRun_PublishesLocalSone(t *testing.T) {
	a := newTestApp(t, testConfig(t), "Run")
	defer a.Close()

	if _, err := a.CreatePost(alice.ID, "", "published text"); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, "") }()

	deadline := time.Now().Add(5 * time.Second)
	var doc *sone.Document
	for time.Now().Before(deadline) {
		d, err := a.Substrate().Fetch(context.Background(), alice.InsertAddress)
		if err == nil {
			doc = d
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if doc == nil {
		t.Fatal("local sone was not published")
	}
	if !strings.Contains(string(doc.Data), "published text") {
		t.Errorf("published document does not contain the post: %s", doc.Data)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestApplyConfig(t *testing.T) {
	a := newTestApp(t, testConfig(t), "Run")
	defer a.Close()

	updated := testConfig(t)
	updated.Publish.DebounceInterval = config.Duration{Duration: 2 * time.Minute}
	updated.LogLevel = "debug"
	a.applyConfig(updated)

	if got := a.debounceInterval(); got != 2*time.Minute {
		t.Errorf("debounceInterval() = %v, want 2m", got)
	}
	if got := a.level.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want DEBUG", got)
	}
}

func TestBackupDatabase(t *testing.T) {
	a := newTestApp(t, testConfig(t), "Backup")
	defer a.Close()

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := a.BackupDatabase(dest); err != nil {
		t.Fatalf("BackupDatabase() error = %v", err)
	}
	if err := a.BackupDatabase(dest); err == nil {
		t.Error("BackupDatabase() onto an existing file error = nil, want error")
	}
}

func TestForget(t *testing.T) {
	cfg := testConfig(t)

	a := newTestApp(t, cfg, "CreatePost")
	if _, err := a.CreatePost(alice.ID, "", "soon gone"); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b := newTestApp(t, cfg, "Forget")
	if err := b.Forget(context.Background(), alice.ID); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	c := newTestApp(t, cfg, "Export")
	defer c.Close()
	if posts := c.Store().PostsBySone(alice.ID); len(posts) != 0 {
		t.Errorf("PostsBySone() = %d posts after Forget, want 0", len(posts))
	}
}
