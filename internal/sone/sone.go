// Package sone holds the identity model shared by the store, the document codec,
// the fetch coordinator and the publish scheduler, together with the collaborator
// interfaces those components consume.
package sone

import "time"

// Status is the lifecycle status of an identity.
type Status int

const (
	StatusUnknown Status = iota
	StatusDownloading
	StatusInserting
	StatusIdle
)

func (s Status) String() string {
	switch s {
	case StatusDownloading:
		return "downloading"
	case StatusInserting:
		return "inserting"
	case StatusIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Client names the software that published a document.
type Client struct {
	Name    string
	Version string
}

// Sone is an immutable snapshot of an identity and its content.
//
// Snapshots are produced by the store under a single lock acquisition and by the
// document decoder. Slices in a snapshot are never shared with the store, so a
// snapshot may be read freely while the store keeps changing.
type Sone struct {
	ID             string
	Name           string
	Local          bool
	RequestAddress string
	InsertAddress  string
	Client         Client
	Time           time.Time
	LatestEdition  int64
	Status         Status
	Profile        Profile

	Posts         []Post
	Replies       []Reply
	LikedPostIDs  []string
	LikedReplyIDs []string

	// Albums is the album tree flattened in pre-order. The root album is implicit:
	// top-level albums have an empty ParentID.
	Albums []Album
}

// SetLatestEdition advances the latest known edition. Editions never move backwards.
func (s *Sone) SetLatestEdition(edition int64) {
	if edition > s.LatestEdition {
		s.LatestEdition = edition
	}
}

// Post returns the post with the given id, if present in the snapshot.
func (s *Sone) Post(id string) (Post, bool) {
	for _, p := range s.Posts {
		if p.ID == id {
			return p, true
		}
	}
	return Post{}, false
}

// Album returns the album with the given id, if present in the snapshot.
func (s *Sone) Album(id string) (Album, bool) {
	for _, a := range s.Albums {
		if a.ID == id {
			return a, true
		}
	}
	return Album{}, false
}

// RootAlbumID returns the id of the implicit root album of an identity.
func RootAlbumID(soneID string) string {
	return soneID + "/albums"
}
