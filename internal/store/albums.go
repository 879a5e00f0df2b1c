package store

import (
	"fmt"

	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// Album returns the album with the given id, including its images.
// Top-level albums are reported with an empty ParentID.
func (m *MemoryStore) Album(id string) (sone.Album, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.albums[id]; !ok {
		return sone.Album{}, false
	}
	return m.albumViewLocked(id), true
}

// AlbumsByParent returns the direct children of an album in order. Pass the
// root album id of an identity to list its top-level albums.
func (m *MemoryStore) AlbumsByParent(parentID string) []sone.Album {
	m.mu.RLock()
	defer m.mu.RUnlock()
	children := m.albumChildren[parentID]
	out := make([]sone.Album, 0, len(children))
	for _, id := range children {
		out = append(out, m.albumViewLocked(id))
	}
	return out
}

// StoreAlbum adds an album or updates the metadata of an existing one. An empty
// ParentID places the album below the owner's root album. Images in a.Images
// are ignored; use StoreImage.
func (m *MemoryStore) StoreAlbum(a sone.Album) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sones[a.SoneID]; !ok {
		return fmt.Errorf("%w: unknown sone %s", sone.ErrPrecondition, a.SoneID)
	}
	root := sone.RootAlbumID(a.SoneID)
	if a.ID == root {
		return fmt.Errorf("%w: the root album cannot be stored", sone.ErrPrecondition)
	}
	if a.ParentID == "" {
		a.ParentID = root
	}
	parent, ok := m.albums[a.ParentID]
	if !ok {
		return fmt.Errorf("%w: album %s names unknown parent %s", sone.ErrPrecondition, a.ID, a.ParentID)
	}
	if parent.SoneID != a.SoneID {
		return fmt.Errorf("%w: parent album %s belongs to %s", sone.ErrPrecondition, a.ParentID, parent.SoneID)
	}
	if old, ok := m.albums[a.ID]; ok {
		if old.SoneID != a.SoneID {
			return fmt.Errorf("%w: album %s already belongs to %s", sone.ErrPrecondition, a.ID, old.SoneID)
		}
		if m.isDescendantLocked(a.ParentID, a.ID) {
			return fmt.Errorf("%w: album %s cannot move below itself", sone.ErrPrecondition, a.ID)
		}
	}
	m.putAlbumLocked(a)
	return nil
}

// RemoveAlbum removes an album, its child albums and all their images. Removing
// a root album is a precondition violation; unknown albums are ignored.
func (m *MemoryStore) RemoveAlbum(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.albums[id]
	if !ok {
		return nil
	}
	if id == sone.RootAlbumID(a.SoneID) {
		return fmt.Errorf("%w: the root album of %s cannot be removed", sone.ErrPrecondition, a.SoneID)
	}
	m.removeAlbumLocked(id)
	return nil
}

// putAlbumLocked inserts or updates album metadata. a.ParentID must be set.
func (m *MemoryStore) putAlbumLocked(a sone.Album) {
	a.Images = nil
	if old, ok := m.albums[a.ID]; ok && old.ParentID != a.ParentID {
		m.albumChildren[old.ParentID] = removeFromSlice(m.albumChildren[old.ParentID], a.ID)
		m.albumChildren[a.ParentID] = append(m.albumChildren[a.ParentID], a.ID)
	} else if !ok {
		m.albumChildren[a.ParentID] = append(m.albumChildren[a.ParentID], a.ID)
	}
	m.albums[a.ID] = a
}

// removeAlbumLocked removes child albums and images first, then the album itself.
func (m *MemoryStore) removeAlbumLocked(id string) {
	a, ok := m.albums[id]
	if !ok {
		return
	}
	for _, child := range append([]string(nil), m.albumChildren[id]...) {
		m.removeAlbumLocked(child)
	}
	for _, img := range append([]string(nil), m.albumImages[id]...) {
		m.removeImageLocked(img)
	}
	delete(m.albumChildren, id)
	delete(m.albumImages, id)
	if a.ParentID != "" {
		m.albumChildren[a.ParentID] = removeFromSlice(m.albumChildren[a.ParentID], id)
		if len(m.albumChildren[a.ParentID]) == 0 {
			delete(m.albumChildren, a.ParentID)
		}
	}
	delete(m.albums, id)
}

func (m *MemoryStore) isDescendantLocked(candidate, ancestor string) bool {
	for id := candidate; id != ""; id = m.albums[id].ParentID {
		if id == ancestor {
			return true
		}
	}
	return false
}

func (m *MemoryStore) albumViewLocked(id string) sone.Album {
	a := m.albums[id]
	if a.ParentID == sone.RootAlbumID(a.SoneID) {
		a.ParentID = ""
	}
	ids := m.albumImages[id]
	if len(ids) > 0 {
		a.Images = make([]sone.Image, 0, len(ids))
		for _, imgID := range ids {
			a.Images = append(a.Images, m.images[imgID])
		}
	}
	return a
}

// Images

// Image returns the image with the given id.
func (m *MemoryStore) Image(id string) (sone.Image, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	return img, ok
}

// ImagesByAlbum returns the images of an album in order.
func (m *MemoryStore) ImagesByAlbum(albumID string) []sone.Image {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.albumImages[albumID]
	out := make([]sone.Image, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.images[id])
	}
	return out
}

// StoreImage adds an image or updates an existing one. The album must exist and
// belong to the same identity; a key that is already set cannot be changed.
func (m *MemoryStore) StoreImage(img sone.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.albums[img.AlbumID]
	if !ok {
		return fmt.Errorf("%w: image %s names unknown album %s", sone.ErrPrecondition, img.ID, img.AlbumID)
	}
	if a.SoneID != img.SoneID {
		return fmt.Errorf("%w: album %s belongs to %s", sone.ErrPrecondition, img.AlbumID, a.SoneID)
	}
	if old, ok := m.images[img.ID]; ok {
		if old.Key != "" && old.Key != img.Key {
			return fmt.Errorf("%w: key of image %s is already set", sone.ErrPrecondition, img.ID)
		}
		if old.SoneID != img.SoneID {
			return fmt.Errorf("%w: image %s already belongs to %s", sone.ErrPrecondition, img.ID, old.SoneID)
		}
	}
	m.putImageLocked(img)
	return nil
}

// SetImageKey assigns the request key of an image. The key can be assigned once.
func (m *MemoryStore) SetImageKey(id, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	img, ok := m.images[id]
	if !ok {
		return fmt.Errorf("%w: unknown image %s", sone.ErrPrecondition, id)
	}
	if img.Key == key {
		return nil
	}
	if img.Key != "" {
		return fmt.Errorf("%w: key of image %s is already set", sone.ErrPrecondition, id)
	}
	img.Key = key
	m.images[id] = img
	return nil
}

// RemoveImage removes an image from its album and clears it as album image.
func (m *MemoryStore) RemoveImage(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeImageLocked(id)
}

func (m *MemoryStore) putImageLocked(img sone.Image) {
	if old, ok := m.images[img.ID]; ok && old.AlbumID != img.AlbumID {
		m.albumImages[old.AlbumID] = removeFromSlice(m.albumImages[old.AlbumID], img.ID)
		m.albumImages[img.AlbumID] = append(m.albumImages[img.AlbumID], img.ID)
	} else if !ok {
		m.albumImages[img.AlbumID] = append(m.albumImages[img.AlbumID], img.ID)
	}
	m.images[img.ID] = img
}

func (m *MemoryStore) removeImageLocked(id string) {
	img, ok := m.images[id]
	if !ok {
		return
	}
	delete(m.images, id)
	m.albumImages[img.AlbumID] = removeFromSlice(m.albumImages[img.AlbumID], id)
	if len(m.albumImages[img.AlbumID]) == 0 {
		delete(m.albumImages, img.AlbumID)
	}
	if a, ok := m.albums[img.AlbumID]; ok && a.AlbumImageID == id {
		a.AlbumImageID = ""
		m.albums[img.AlbumID] = a
	}
}
