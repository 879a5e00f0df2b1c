package sone

// AlbumTree indexes a flattened album list by parent without pointers between
// albums. Order of children follows the order of the input list.
type AlbumTree struct {
	albums   map[string]Album
	children map[string][]string
}

// NewAlbumTree indexes albums. Albums whose parent is not in the list are
// treated as top-level.
func NewAlbumTree(albums []Album) *AlbumTree {
	t := &AlbumTree{
		albums:   make(map[string]Album, len(albums)),
		children: make(map[string][]string),
	}
	for _, a := range albums {
		t.albums[a.ID] = a
	}
	for _, a := range albums {
		parent := a.ParentID
		if _, ok := t.albums[parent]; !ok {
			parent = ""
		}
		t.children[parent] = append(t.children[parent], a.ID)
	}
	return t
}

// Children returns the direct children of parentID; "" selects top-level albums.
func (t *AlbumTree) Children(parentID string) []Album {
	ids := t.children[parentID]
	out := make([]Album, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.albums[id])
	}
	return out
}

// HasPublishedImages reports whether the album or any descendant holds a published image.
func (t *AlbumTree) HasPublishedImages(albumID string) bool {
	a, ok := t.albums[albumID]
	if !ok {
		return false
	}
	for _, img := range a.Images {
		if img.Published() {
			return true
		}
	}
	for _, child := range t.children[albumID] {
		if t.HasPublishedImages(child) {
			return true
		}
	}
	return false
}

// Flatten returns the albums in pre-order, parents before children.
func (t *AlbumTree) Flatten() []Album {
	var out []Album
	var walk func(parent string)
	walk = func(parent string) {
		for _, id := range t.children[parent] {
			out = append(out, t.albums[id])
			walk(id)
		}
	}
	walk("")
	return out
}

// FlattenPublished is Flatten restricted to albums with published images, and to
// the published images within them.
func (t *AlbumTree) FlattenPublished() []Album {
	var out []Album
	var walk func(parent string)
	walk = func(parent string) {
		for _, id := range t.children[parent] {
			if !t.HasPublishedImages(id) {
				continue
			}
			a := t.albums[id]
			images := make([]Image, 0, len(a.Images))
			cover := ""
			for _, img := range a.Images {
				if img.Published() {
					images = append(images, img)
					if img.ID == a.AlbumImageID {
						cover = img.ID
					}
				}
			}
			a.Images, a.AlbumImageID = images, cover
			out = append(out, a)
			walk(id)
		}
	}
	walk("")
	return out
}
