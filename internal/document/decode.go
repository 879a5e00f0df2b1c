package document

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// Decode parses doc into a new snapshot derived from original.
//
// Identity metadata (id, name, addresses, local flag, status) is carried over from
// original; everything published is taken from the document. The client is kept
// from original when the document has none. Decoding is all-or-nothing: any
// error leaves nothing half-built, and original is never modified.
func (c *Codec) Decode(original sone.Sone, doc *sone.Document) (*sone.Sone, error) {
	return c.decode(original, doc, scopePublished)
}

// DecodeLocal parses data written by EncodeLocal. Images without a key and
// recipients of any length are kept.
func (c *Codec) DecodeLocal(original sone.Sone, data []byte) (*sone.Sone, error) {
	return c.decode(original, &sone.Document{Address: original.RequestAddress, Data: data}, scopeLocal)
}

func (c *Codec) decode(original sone.Sone, doc *sone.Document, sc scope) (*sone.Sone, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: no document", sone.ErrMalformedDocument)
	}

	var w wireSone
	dec := xml.NewDecoder(bytes.NewReader(doc.Data))
	if err := dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", sone.ErrMalformedDocument)
		}
		return nil, fmt.Errorf("%w: %v", sone.ErrMalformedDocument, err)
	}

	version := 0
	if w.ProtocolVersion != nil {
		v, err := strconv.Atoi(strings.TrimSpace(*w.ProtocolVersion))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid protocol version %q", sone.ErrProtocolVersion, *w.ProtocolVersion)
		}
		version = v
	}
	if version < 0 || version > MaxProtocolVersion {
		return nil, fmt.Errorf("%w: version %d not in [0, %d]", sone.ErrProtocolVersion, version, MaxProtocolVersion)
	}

	if w.Time == nil {
		return nil, fmt.Errorf("%w: missing time", sone.ErrMalformedDocument)
	}
	t, err := parseMillis(*w.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: time: %v", sone.ErrMalformedDocument, err)
	}

	if w.Profile == nil {
		return nil, fmt.Errorf("%w: missing profile", sone.ErrMalformedDocument)
	}

	s := &sone.Sone{
		ID:             original.ID,
		Name:           original.Name,
		Local:          original.Local,
		RequestAddress: original.RequestAddress,
		InsertAddress:  original.InsertAddress,
		Client:         original.Client,
		Time:           sone.FromMillis(t),
		LatestEdition:  original.LatestEdition,
		Status:         original.Status,
	}
	if w.Client != nil {
		s.Client = sone.Client{Name: w.Client.Name, Version: w.Client.Version}
	}

	if s.Posts, err = c.decodePosts(s.ID, w.Posts, sc); err != nil {
		return nil, err
	}
	if s.Replies, err = c.decodeReplies(s.ID, w.Replies); err != nil {
		return nil, err
	}
	if w.PostLikes == nil {
		c.logger.Debug("document has no post likes", "sone", s.ID)
	} else {
		s.LikedPostIDs = distinct(w.PostLikes.IDs)
	}
	if w.ReplyLikes == nil {
		c.logger.Debug("document has no reply likes", "sone", s.ID)
	} else {
		s.LikedReplyIDs = distinct(w.ReplyLikes.IDs)
	}
	if s.Albums, err = c.decodeAlbums(s.ID, w.Albums, sc); err != nil {
		return nil, err
	}
	if s.Profile, err = c.decodeProfile(s.ID, w.Profile, s.Albums); err != nil {
		return nil, err
	}

	s.SetLatestEdition(doc.Edition)
	return s, nil
}

func (c *Codec) decodeProfile(soneID string, w *wireProfile, albums []sone.Album) (sone.Profile, error) {
	p := sone.Profile{
		FirstName:  value(w.FirstName, ""),
		MiddleName: value(w.MiddleName, ""),
		LastName:   value(w.LastName, ""),
		BirthDay:   c.birthValue(soneID, "birth-day", w.BirthDay),
		BirthMonth: c.birthValue(soneID, "birth-month", w.BirthMonth),
		BirthYear:  c.birthValue(soneID, "birth-year", w.BirthYear),
	}

	if w.Avatar != nil && *w.Avatar != "" {
		if hasImage(albums, *w.Avatar) {
			p.AvatarID = *w.Avatar
		} else {
			c.logger.Debug("dropping avatar of unknown image", "sone", soneID, "image", *w.Avatar)
		}
	}

	if w.Fields == nil {
		return p, nil
	}
	for _, wf := range w.Fields.Field {
		if wf.Name == nil || *wf.Name == "" {
			return sone.Profile{}, fmt.Errorf("%w: profile field without name", sone.ErrMalformedDocument)
		}
		f, err := p.AddField(*wf.Name)
		if err != nil {
			return sone.Profile{}, fmt.Errorf("%w: %v", sone.ErrMalformedDocument, err)
		}
		if err := p.SetFieldValue(f.ID, value(wf.Value, "")); err != nil {
			return sone.Profile{}, fmt.Errorf("%w: %v", sone.ErrMalformedDocument, err)
		}
	}
	return p, nil
}

// birthValue parses an optional birth component. Unparsable values are treated
// as absent rather than rejecting the document.
func (c *Codec) birthValue(soneID, name string, raw *string) int {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(*raw))
	if err != nil || v < 0 {
		c.logger.Debug("ignoring invalid profile value", "sone", soneID, "field", name, "value", *raw)
		return 0
	}
	return v
}

func (c *Codec) decodePosts(soneID string, w *wirePosts, sc scope) ([]sone.Post, error) {
	if w == nil {
		c.logger.Debug("document has no posts", "sone", soneID)
		return nil, nil
	}
	posts := make([]sone.Post, 0, len(w.Post))
	for _, wp := range w.Post {
		if wp.ID == nil || wp.Time == nil || wp.Text == nil {
			return nil, fmt.Errorf("%w: post missing id, time or text", sone.ErrMalformedDocument)
		}
		t, err := parseMillis(*wp.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: post %s: time: %v", sone.ErrMalformedDocument, *wp.ID, err)
		}
		b := c.builders.Post().WithID(*wp.ID).From(soneID).At(sone.FromMillis(t)).Text(*wp.Text)
		if r := value(wp.Recipient, ""); r != "" && r != soneID && (sc == scopeLocal || len(r) == RecipientIDLength) {
			b.To(r)
		}
		p, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("%w: post %s: %v", sone.ErrMalformedDocument, *wp.ID, err)
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func (c *Codec) decodeReplies(soneID string, w *wireReplies) ([]sone.Reply, error) {
	if w == nil {
		c.logger.Debug("document has no replies", "sone", soneID)
		return nil, nil
	}
	replies := make([]sone.Reply, 0, len(w.Reply))
	for _, wr := range w.Reply {
		if wr.ID == nil || wr.PostID == nil || wr.Time == nil || wr.Text == nil {
			return nil, fmt.Errorf("%w: reply missing id, post-id, time or text", sone.ErrMalformedDocument)
		}
		t, err := parseMillis(*wr.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: reply %s: time: %v", sone.ErrMalformedDocument, *wr.ID, err)
		}
		r, err := c.builders.Reply().
			WithID(*wr.ID).
			From(soneID).
			ToPost(*wr.PostID).
			At(sone.FromMillis(t)).
			Text(*wr.Text).
			Build()
		if err != nil {
			return nil, fmt.Errorf("%w: reply %s: %v", sone.ErrMalformedDocument, *wr.ID, err)
		}
		replies = append(replies, r)
	}
	return replies, nil
}

func (c *Codec) decodeAlbums(soneID string, w *wireAlbums, sc scope) ([]sone.Album, error) {
	if w == nil {
		return nil, nil
	}
	albums := make([]sone.Album, 0, len(w.Album))
	seen := make(map[string]bool)
	for _, wa := range w.Album {
		if wa.ID == nil || wa.Title == nil {
			return nil, fmt.Errorf("%w: album missing id or title", sone.ErrMalformedDocument)
		}
		id := *wa.ID
		if id == sone.RootAlbumID(soneID) {
			return nil, fmt.Errorf("%w: album %s is the root album", sone.ErrMalformedDocument, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate album %s", sone.ErrMalformedDocument, id)
		}
		parent := value(wa.Parent, "")
		if parent == sone.RootAlbumID(soneID) {
			parent = ""
		}
		if parent != "" && !seen[parent] {
			return nil, fmt.Errorf("%w: album %s has unknown parent %s", sone.ErrMalformedDocument, id, parent)
		}

		a, err := c.builders.Album().
			WithID(id).
			By(soneID).
			Parent(parent).
			Title(*wa.Title).
			Description(value(wa.Description, "")).
			Build()
		if err != nil {
			return nil, fmt.Errorf("%w: album %s: %v", sone.ErrMalformedDocument, id, err)
		}
		if a.Images, err = c.decodeImages(soneID, id, wa.Images, sc); err != nil {
			return nil, err
		}
		if cover := value(wa.AlbumImage, ""); cover != "" {
			for _, img := range a.Images {
				if img.ID == cover {
					a.AlbumImageID = cover
					break
				}
			}
		}

		seen[id] = true
		albums = append(albums, a)
	}
	return albums, nil
}

func (c *Codec) decodeImages(soneID, albumID string, w *wireImages, sc scope) ([]sone.Image, error) {
	if w == nil {
		return nil, nil
	}
	images := make([]sone.Image, 0, len(w.Image))
	for _, wi := range w.Image {
		if wi.ID == nil || wi.CreationTime == nil || wi.Title == nil || (wi.Key == nil && sc == scopePublished) {
			return nil, fmt.Errorf("%w: image in album %s missing id, creation-time, key or title", sone.ErrMalformedDocument, albumID)
		}
		created, err := parseMillis(*wi.CreationTime)
		if err != nil {
			return nil, fmt.Errorf("%w: image %s: creation-time: %v", sone.ErrMalformedDocument, *wi.ID, err)
		}
		width, werr := strconv.Atoi(strings.TrimSpace(value(wi.Width, "")))
		height, herr := strconv.Atoi(strings.TrimSpace(value(wi.Height, "")))
		if werr != nil || herr != nil {
			return nil, fmt.Errorf("%w: image %s: invalid dimensions", sone.ErrMalformedDocument, *wi.ID)
		}
		img, err := c.builders.Image().
			WithID(*wi.ID).
			By(soneID).
			InAlbum(albumID).
			At(sone.FromMillis(created)).
			Key(value(wi.Key, "")).
			Title(*wi.Title).
			Description(value(wi.Description, "")).
			Dimensions(width, height).
			Build()
		if err != nil {
			return nil, fmt.Errorf("%w: image %s: %v", sone.ErrMalformedDocument, *wi.ID, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func parseMillis(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

func distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func hasImage(albums []sone.Album, imageID string) bool {
	for _, a := range albums {
		for _, img := range a.Images {
			if img.ID == imageID {
				return true
			}
		}
	}
	return false
}
