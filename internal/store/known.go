package store

// MarkSoneKnown records that an identity has been seen.
func (m *MemoryStore) MarkSoneKnown(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.knownSones[id] = struct{}{}
}

// IsSoneKnown reports whether an identity has been seen.
func (m *MemoryStore) IsSoneKnown(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.knownSones.has(id)
}

// MarkPostKnown records that a post has been seen.
func (m *MemoryStore) MarkPostKnown(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.knownPosts[id] = struct{}{}
}

// IsPostKnown reports whether a post has been seen.
func (m *MemoryStore) IsPostKnown(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.knownPosts.has(id)
}

// MarkReplyKnown records that a reply has been seen.
func (m *MemoryStore) MarkReplyKnown(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.knownReplies[id] = struct{}{}
}

// IsReplyKnown reports whether a reply has been seen.
func (m *MemoryStore) IsReplyKnown(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.knownReplies.has(id)
}

// KnownSets is a copy of the known sets, used to persist and restore them.
type KnownSets struct {
	Sones   []string
	Posts   []string
	Replies []string
}

// Known returns sorted copies of all known sets.
func (m *MemoryStore) Known() KnownSets {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return KnownSets{
		Sones:   m.knownSones.sorted(),
		Posts:   m.knownPosts.sorted(),
		Replies: m.knownReplies.sorted(),
	}
}

// LoadKnown adds the given ids to the known sets.
func (m *MemoryStore) LoadKnown(k KnownSets) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range k.Sones {
		m.knownSones[id] = struct{}{}
	}
	for _, id := range k.Posts {
		m.knownPosts[id] = struct{}{}
	}
	for _, id := range k.Replies {
		m.knownReplies[id] = struct{}{}
	}
}

// MarkContentKnown marks posts and replies as known in one step and returns the
// ids that were not known before.
func (m *MemoryStore) MarkContentKnown(postIDs, replyIDs []string) (newPosts, newReplies []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range postIDs {
		if !m.knownPosts.has(id) {
			m.knownPosts[id] = struct{}{}
			newPosts = append(newPosts, id)
		}
	}
	for _, id := range replyIDs {
		if !m.knownReplies.has(id) {
			m.knownReplies[id] = struct{}{}
			newReplies = append(newReplies, id)
		}
	}
	return newPosts, newReplies
}
