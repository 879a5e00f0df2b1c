// Package store is the in-memory, multiply indexed repository of identities and
// their content. It is the only mutable source of truth of the engine.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// soneRecord is the identity-level state held by the store. Content lives in the
// store-wide tables and is joined in when a snapshot is taken.
type soneRecord struct {
	id             string
	name           string
	local          bool
	requestAddress string
	insertAddress  string
	client         sone.Client
	time           time.Time
	latestEdition  int64
	status         sone.Status
	locked         bool
	profile        sone.Profile
}

// MemoryStore keeps identities, posts, replies, albums, images, likes and known
// sets in memory behind one read/write lock. Every compound mutation runs under a
// single write-lock acquisition, so readers observe it entirely or not at all.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	sones map[string]*soneRecord

	posts            map[string]sone.Post
	postsBySone      index
	postsByRecipient index

	replies       map[string]sone.Reply
	repliesBySone index
	repliesByPost index

	// albums holds album metadata without images; ParentID is always set, to the
	// root album id for top-level albums.
	albums        map[string]sone.Album
	albumChildren map[string][]string
	images        map[string]sone.Image
	albumImages   map[string][]string

	postLikes    index // liker -> post ids
	postLikers   index // post id -> likers
	replyLikes   index // liker -> reply ids
	replyLikers  index // reply id -> likers
	knownSones   idSet
	knownPosts   idSet
	knownReplies idSet
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sones:            make(map[string]*soneRecord),
		posts:            make(map[string]sone.Post),
		postsBySone:      make(index),
		postsByRecipient: make(index),
		replies:          make(map[string]sone.Reply),
		repliesBySone:    make(index),
		repliesByPost:    make(index),
		albums:           make(map[string]sone.Album),
		albumChildren:    make(map[string][]string),
		images:           make(map[string]sone.Image),
		albumImages:      make(map[string][]string),
		postLikes:        make(index),
		postLikers:       make(index),
		replyLikes:       make(index),
		replyLikers:      make(index),
		knownSones:       make(idSet),
		knownPosts:       make(idSet),
		knownReplies:     make(idSet),
	}
}

// Identities

// AddSone registers an identity if it is not present yet and returns its snapshot.
// An existing identity keeps its state; only empty addresses and name are filled in.
func (m *MemoryStore) AddSone(identity sone.Identity) sone.Sone {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sones[identity.ID]
	if !ok {
		rec = &soneRecord{
			id:     identity.ID,
			local:  identity.Local,
			status: sone.StatusUnknown,
		}
		if identity.Local {
			rec.status = sone.StatusIdle
		}
		m.sones[identity.ID] = rec
		root := sone.RootAlbumID(identity.ID)
		m.albums[root] = sone.Album{ID: root, SoneID: identity.ID}
	}
	if rec.name == "" {
		rec.name = identity.Name
	}
	if rec.requestAddress == "" {
		rec.requestAddress = identity.RequestAddress
	}
	if rec.insertAddress == "" {
		rec.insertAddress = identity.InsertAddress
	}
	return m.snapshotLocked(rec)
}

// Sone returns a snapshot of the identity with the given id.
func (m *MemoryStore) Sone(id string) (sone.Sone, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sones[id]
	if !ok {
		return sone.Sone{}, false
	}
	return m.snapshotLocked(rec), true
}

// SoneIDs returns the ids of all identities, sorted.
func (m *MemoryStore) SoneIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sones))
	for id := range m.sones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LocalSoneIDs returns the ids of all local identities, sorted.
func (m *MemoryStore) LocalSoneIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, rec := range m.sones {
		if rec.local {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Fingerprint returns the content fingerprint of an identity.
func (m *MemoryStore) Fingerprint(id string) (string, bool) {
	s, ok := m.Sone(id)
	if !ok {
		return "", false
	}
	return sone.Fingerprint(s), true
}

// RemoveSone removes an identity and everything it owns from every index.
func (m *MemoryStore) RemoveSone(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sones[id]; !ok {
		return
	}
	m.clearContentLocked(id)
	m.removeAlbumLocked(sone.RootAlbumID(id))
	delete(m.sones, id)
}

// StoreSone replaces the content of an identity with the content of the given
// snapshot: profile, client, time, posts, replies, likes and albums. The latest
// edition only advances. Local flag, addresses, status and lock state are kept.
//
// Every post, reply, album and image must belong to s.ID and albums must name a
// parent that precedes them in s.Albums; otherwise nothing is changed and an
// error wrapping sone.ErrPrecondition is returned.
func (m *MemoryStore) StoreSone(s sone.Sone) error {
	if err := checkOwnership(s); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sones[s.ID]
	if !ok {
		return fmt.Errorf("%w: unknown sone %s", sone.ErrPrecondition, s.ID)
	}
	if err := m.checkForeignIDsLocked(s); err != nil {
		return err
	}

	m.clearContentLocked(s.ID)

	rec.profile = s.Profile
	rec.client = s.Client
	rec.time = s.Time
	if s.LatestEdition > rec.latestEdition {
		rec.latestEdition = s.LatestEdition
	}
	if s.Name != "" {
		rec.name = s.Name
	}

	for _, p := range s.Posts {
		m.putPostLocked(p)
	}
	for _, r := range s.Replies {
		m.putReplyLocked(r)
	}
	for _, id := range s.LikedPostIDs {
		m.postLikes.add(s.ID, id)
		m.postLikers.add(id, s.ID)
	}
	for _, id := range s.LikedReplyIDs {
		m.replyLikes.add(s.ID, id)
		m.replyLikers.add(id, s.ID)
	}
	root := sone.RootAlbumID(s.ID)
	for _, a := range s.Albums {
		images := a.Images
		if a.ParentID == "" {
			a.ParentID = root
		}
		m.putAlbumLocked(a)
		for _, img := range images {
			m.putImageLocked(img)
		}
	}
	return nil
}

func checkOwnership(s sone.Sone) error {
	for _, p := range s.Posts {
		if p.SoneID != s.ID {
			return fmt.Errorf("%w: post %s belongs to %s, not %s", sone.ErrPrecondition, p.ID, p.SoneID, s.ID)
		}
	}
	for _, r := range s.Replies {
		if r.SoneID != s.ID {
			return fmt.Errorf("%w: reply %s belongs to %s, not %s", sone.ErrPrecondition, r.ID, r.SoneID, s.ID)
		}
	}
	root := sone.RootAlbumID(s.ID)
	seen := make(idSet, len(s.Albums))
	for _, a := range s.Albums {
		if a.SoneID != s.ID {
			return fmt.Errorf("%w: album %s belongs to %s, not %s", sone.ErrPrecondition, a.ID, a.SoneID, s.ID)
		}
		if a.ID == root {
			return fmt.Errorf("%w: album %s is the root album of %s", sone.ErrPrecondition, a.ID, s.ID)
		}
		if a.ParentID != "" && !seen.has(a.ParentID) {
			return fmt.Errorf("%w: album %s names unknown parent %s", sone.ErrPrecondition, a.ID, a.ParentID)
		}
		for _, img := range a.Images {
			if img.SoneID != s.ID || img.AlbumID != a.ID {
				return fmt.Errorf("%w: image %s does not belong to album %s", sone.ErrPrecondition, img.ID, a.ID)
			}
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// checkForeignIDsLocked rejects snapshots reusing ids owned by another identity.
func (m *MemoryStore) checkForeignIDsLocked(s sone.Sone) error {
	for _, p := range s.Posts {
		if old, ok := m.posts[p.ID]; ok && old.SoneID != s.ID {
			return fmt.Errorf("%w: post %s already belongs to %s", sone.ErrPrecondition, p.ID, old.SoneID)
		}
	}
	for _, r := range s.Replies {
		if old, ok := m.replies[r.ID]; ok && old.SoneID != s.ID {
			return fmt.Errorf("%w: reply %s already belongs to %s", sone.ErrPrecondition, r.ID, old.SoneID)
		}
	}
	for _, a := range s.Albums {
		if old, ok := m.albums[a.ID]; ok && old.SoneID != s.ID {
			return fmt.Errorf("%w: album %s already belongs to %s", sone.ErrPrecondition, a.ID, old.SoneID)
		}
		for _, img := range a.Images {
			if old, ok := m.images[img.ID]; ok && old.SoneID != s.ID {
				return fmt.Errorf("%w: image %s already belongs to %s", sone.ErrPrecondition, img.ID, old.SoneID)
			}
		}
	}
	return nil
}

// clearContentLocked removes all posts, replies, likes given and albums of an
// identity. The root album itself survives.
func (m *MemoryStore) clearContentLocked(soneID string) {
	for id := range m.postsBySone.get(soneID) {
		m.removePostLocked(id)
	}
	for id := range m.repliesBySone.get(soneID) {
		m.removeReplyLocked(id)
	}
	for id := range m.postLikes.get(soneID) {
		m.postLikers.remove(id, soneID)
	}
	delete(m.postLikes, soneID)
	for id := range m.replyLikes.get(soneID) {
		m.replyLikers.remove(id, soneID)
	}
	delete(m.replyLikes, soneID)
	root := sone.RootAlbumID(soneID)
	for _, child := range append([]string(nil), m.albumChildren[root]...) {
		m.removeAlbumLocked(child)
	}
	for _, img := range append([]string(nil), m.albumImages[root]...) {
		m.removeImageLocked(img)
	}
}

// SetStatus sets the lifecycle status of an identity.
func (m *MemoryStore) SetStatus(id string, status sone.Status) {
	m.update(id, func(rec *soneRecord) { rec.status = status })
}

// SetLocked sets the administrative lock of an identity. A locked identity is
// not published.
func (m *MemoryStore) SetLocked(id string, locked bool) {
	m.update(id, func(rec *soneRecord) { rec.locked = locked })
}

// IsLocked reports whether an identity is administratively locked.
func (m *MemoryStore) IsLocked(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sones[id]
	return ok && rec.locked
}

// SetTime sets the time of an identity.
func (m *MemoryStore) SetTime(id string, t time.Time) {
	m.update(id, func(rec *soneRecord) { rec.time = t })
}

// SetLatestEdition advances the latest known edition of an identity. Values not
// greater than the current edition are ignored.
func (m *MemoryStore) SetLatestEdition(id string, edition int64) {
	m.update(id, func(rec *soneRecord) {
		if edition > rec.latestEdition {
			rec.latestEdition = edition
		}
	})
}

// LatestEdition returns the latest known edition of an identity.
func (m *MemoryStore) LatestEdition(id string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.sones[id]; ok {
		return rec.latestEdition
	}
	return 0
}

// SetClient records the client that published an identity.
func (m *MemoryStore) SetClient(id string, client sone.Client) {
	m.update(id, func(rec *soneRecord) { rec.client = client })
}

func (m *MemoryStore) update(id string, fn func(*soneRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.sones[id]; ok {
		fn(rec)
	}
}

// Profile returns the profile of an identity.
func (m *MemoryStore) Profile(id string) (sone.Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sones[id]
	if !ok {
		return sone.Profile{}, false
	}
	return rec.profile, true
}

// UpdateProfile applies fn to a copy of the identity's profile and swaps the
// result in if fn succeeds. Readers never see a partially modified profile.
func (m *MemoryStore) UpdateProfile(id string, fn func(*sone.Profile) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sones[id]
	if !ok {
		return fmt.Errorf("%w: unknown sone %s", sone.ErrPrecondition, id)
	}
	p := rec.profile
	if err := fn(&p); err != nil {
		return err
	}
	rec.profile = p
	return nil
}

// snapshotLocked builds an immutable copy of an identity. The caller holds mu.
func (m *MemoryStore) snapshotLocked(rec *soneRecord) sone.Sone {
	s := sone.Sone{
		ID:             rec.id,
		Name:           rec.name,
		Local:          rec.local,
		RequestAddress: rec.requestAddress,
		InsertAddress:  rec.insertAddress,
		Client:         rec.client,
		Time:           rec.time,
		LatestEdition:  rec.latestEdition,
		Status:         rec.status,
		Profile:        rec.profile,
		LikedPostIDs:   m.postLikes.get(rec.id).sorted(),
		LikedReplyIDs:  m.replyLikes.get(rec.id).sorted(),
	}
	for id := range m.postsBySone.get(rec.id) {
		s.Posts = append(s.Posts, m.posts[id])
	}
	sone.SortPostsByTime(s.Posts)
	for id := range m.repliesBySone.get(rec.id) {
		s.Replies = append(s.Replies, m.replies[id])
	}
	sone.SortRepliesNewestFirst(s.Replies)

	root := sone.RootAlbumID(rec.id)
	var walk func(parent string)
	walk = func(parent string) {
		for _, id := range m.albumChildren[parent] {
			s.Albums = append(s.Albums, m.albumViewLocked(id))
			walk(id)
		}
	}
	walk(root)
	return s
}

// Posts

// Post returns the post with the given id.
func (m *MemoryStore) Post(id string) (sone.Post, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	return p, ok
}

// PostsBySone returns the posts of an identity, newest first.
func (m *MemoryStore) PostsBySone(soneID string) []sone.Post {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.postsNewestFirstLocked(m.postsBySone.get(soneID))
}

// PostsByRecipient returns the posts directed at an identity, newest first.
func (m *MemoryStore) PostsByRecipient(soneID string) []sone.Post {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.postsNewestFirstLocked(m.postsByRecipient.get(soneID))
}

func (m *MemoryStore) postsNewestFirstLocked(ids idSet) []sone.Post {
	posts := make([]sone.Post, 0, len(ids))
	for id := range ids {
		posts = append(posts, m.posts[id])
	}
	sone.SortPostsByTime(posts)
	for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
		posts[i], posts[j] = posts[j], posts[i]
	}
	return posts
}

// StorePost adds or replaces a single post. Its owner must be known.
func (m *MemoryStore) StorePost(p sone.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sones[p.SoneID]; !ok {
		return fmt.Errorf("%w: unknown sone %s", sone.ErrPrecondition, p.SoneID)
	}
	if old, ok := m.posts[p.ID]; ok && old.SoneID != p.SoneID {
		return fmt.Errorf("%w: post %s already belongs to %s", sone.ErrPrecondition, p.ID, old.SoneID)
	}
	m.removePostLocked(p.ID)
	m.putPostLocked(p)
	return nil
}

// StorePosts replaces all posts of an identity in one step. Every post must
// belong to soneID.
func (m *MemoryStore) StorePosts(soneID string, posts []sone.Post) error {
	for _, p := range posts {
		if p.SoneID != soneID {
			return fmt.Errorf("%w: post %s belongs to %s, not %s", sone.ErrPrecondition, p.ID, p.SoneID, soneID)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkForeignIDsLocked(sone.Sone{ID: soneID, Posts: posts}); err != nil {
		return err
	}
	for id := range m.postsBySone.get(soneID) {
		m.removePostLocked(id)
	}
	for _, p := range posts {
		m.putPostLocked(p)
	}
	return nil
}

// RemovePost removes a post from every index.
func (m *MemoryStore) RemovePost(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removePostLocked(id)
}

func (m *MemoryStore) putPostLocked(p sone.Post) {
	m.posts[p.ID] = p
	m.postsBySone.add(p.SoneID, p.ID)
	if p.RecipientID != "" {
		m.postsByRecipient.add(p.RecipientID, p.ID)
	}
}

func (m *MemoryStore) removePostLocked(id string) {
	p, ok := m.posts[id]
	if !ok {
		return
	}
	delete(m.posts, id)
	m.postsBySone.remove(p.SoneID, id)
	if p.RecipientID != "" {
		m.postsByRecipient.remove(p.RecipientID, id)
	}
}

// Replies

// Reply returns the reply with the given id.
func (m *MemoryStore) Reply(id string) (sone.Reply, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.replies[id]
	return r, ok
}

// RepliesByPost returns the replies to a post, oldest first.
func (m *MemoryStore) RepliesByPost(postID string) []sone.Reply {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.repliesByPost.get(postID)
	replies := make([]sone.Reply, 0, len(ids))
	for id := range ids {
		replies = append(replies, m.replies[id])
	}
	sone.SortRepliesNewestFirst(replies)
	for i, j := 0, len(replies)-1; i < j; i, j = i+1, j-1 {
		replies[i], replies[j] = replies[j], replies[i]
	}
	return replies
}

// StoreReply adds or replaces a single reply. Its owner must be known.
func (m *MemoryStore) StoreReply(r sone.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sones[r.SoneID]; !ok {
		return fmt.Errorf("%w: unknown sone %s", sone.ErrPrecondition, r.SoneID)
	}
	if old, ok := m.replies[r.ID]; ok && old.SoneID != r.SoneID {
		return fmt.Errorf("%w: reply %s already belongs to %s", sone.ErrPrecondition, r.ID, old.SoneID)
	}
	m.removeReplyLocked(r.ID)
	m.putReplyLocked(r)
	return nil
}

// StoreReplies replaces all replies of an identity in one step. Every reply
// must belong to soneID.
func (m *MemoryStore) StoreReplies(soneID string, replies []sone.Reply) error {
	for _, r := range replies {
		if r.SoneID != soneID {
			return fmt.Errorf("%w: reply %s belongs to %s, not %s", sone.ErrPrecondition, r.ID, r.SoneID, soneID)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkForeignIDsLocked(sone.Sone{ID: soneID, Replies: replies}); err != nil {
		return err
	}
	for id := range m.repliesBySone.get(soneID) {
		m.removeReplyLocked(id)
	}
	for _, r := range replies {
		m.putReplyLocked(r)
	}
	return nil
}

// RemoveReply removes a reply from every index.
func (m *MemoryStore) RemoveReply(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeReplyLocked(id)
}

func (m *MemoryStore) putReplyLocked(r sone.Reply) {
	m.replies[r.ID] = r
	m.repliesBySone.add(r.SoneID, r.ID)
	m.repliesByPost.add(r.PostID, r.ID)
}

func (m *MemoryStore) removeReplyLocked(id string) {
	r, ok := m.replies[id]
	if !ok {
		return
	}
	delete(m.replies, id)
	m.repliesBySone.remove(r.SoneID, id)
	m.repliesByPost.remove(r.PostID, id)
}

// Likes

// LikePost records that soneID likes postID.
func (m *MemoryStore) LikePost(soneID, postID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sones[soneID]; !ok {
		return
	}
	m.postLikes.add(soneID, postID)
	m.postLikers.add(postID, soneID)
}

// UnlikePost removes a post like.
func (m *MemoryStore) UnlikePost(soneID, postID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postLikes.remove(soneID, postID)
	m.postLikers.remove(postID, soneID)
}

// IsPostLiked reports whether soneID likes postID.
func (m *MemoryStore) IsPostLiked(soneID, postID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.postLikes.get(soneID).has(postID)
}

// PostLikers returns the ids of identities liking a post, sorted.
func (m *MemoryStore) PostLikers(postID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.postLikers.get(postID).sorted()
}

// LikeReply records that soneID likes replyID.
func (m *MemoryStore) LikeReply(soneID, replyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sones[soneID]; !ok {
		return
	}
	m.replyLikes.add(soneID, replyID)
	m.replyLikers.add(replyID, soneID)
}

// UnlikeReply removes a reply like.
func (m *MemoryStore) UnlikeReply(soneID, replyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyLikes.remove(soneID, replyID)
	m.replyLikers.remove(replyID, soneID)
}

// IsReplyLiked reports whether soneID likes replyID.
func (m *MemoryStore) IsReplyLiked(soneID, replyID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.replyLikes.get(soneID).has(replyID)
}

// ReplyLikers returns the ids of identities liking a reply, sorted.
func (m *MemoryStore) ReplyLikers(replyID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.replyLikers.get(replyID).sorted()
}
