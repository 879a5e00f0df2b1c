package sone

import "time"

// Post is a top-level message. Posts are immutable once built.
type Post struct {
	ID          string `validate:"required"`
	SoneID      string `validate:"required"`
	RecipientID string `validate:"omitempty,nefield=SoneID"`
	Time        time.Time
	Text        string `validate:"notblank"`
}

// Reply is an answer to a post. Replies are immutable once built.
type Reply struct {
	ID     string `validate:"required"`
	SoneID string `validate:"required"`
	PostID string `validate:"required"`
	Time   time.Time
	Text   string `validate:"notblank"`
}

// Album groups images and child albums. ParentID is empty for top-level albums.
type Album struct {
	ID           string `validate:"required"`
	SoneID       string `validate:"required"`
	ParentID     string
	Title        string
	Description  string
	AlbumImageID string
	Images       []Image
}

// Image is a picture inside an album. Key is the request key of the published
// image data; an image without a key has never been published.
type Image struct {
	ID           string `validate:"required"`
	SoneID       string `validate:"required"`
	AlbumID      string `validate:"required"`
	CreationTime time.Time
	Key          string
	Title        string
	Description  string
	Width        int `validate:"gt=0"`
	Height       int `validate:"gt=0"`
}

// Published reports whether the image data has been published.
func (i Image) Published() bool {
	return i.Key != ""
}
