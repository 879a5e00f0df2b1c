package document

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"

	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// Publication is an encoded snapshot ready to hand to a substrate.
type Publication struct {
	Document    []byte
	Manifest    []sone.ManifestEntry
	Fingerprint string
}

// Encode renders s into the primary document and the auxiliary manifest entries.
//
// s must be a snapshot; it is not modified. Posts are written oldest first,
// replies newest first, and only albums holding published images are included.
func (c *Codec) Encode(s sone.Sone) (*Publication, error) {
	data, err := c.EncodeDocument(s)
	if err != nil {
		return nil, err
	}
	page, err := renderPage(s)
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return &Publication{
		Document: data,
		Manifest: []sone.ManifestEntry{
			{Name: PageName, ContentType: "text/html; charset=utf-8", Data: page},
		},
		Fingerprint: sone.Fingerprint(s),
	}, nil
}

// EncodeDocument renders only the primary XML document.
func (c *Codec) EncodeDocument(s sone.Sone) ([]byte, error) {
	return c.encodeDocument(s, scopePublished)
}

// EncodeLocal renders the complete state of a local identity, including albums
// and images that are not published yet. DecodeLocal reads it back.
func (c *Codec) EncodeLocal(s sone.Sone) ([]byte, error) {
	return c.encodeDocument(s, scopeLocal)
}

func (c *Codec) encodeDocument(s sone.Sone, sc scope) ([]byte, error) {
	tree := sone.NewAlbumTree(s.Albums)
	albums := tree.FlattenPublished()
	if sc == scopeLocal {
		albums = tree.Flatten()
	}
	w := wireSone{
		ProtocolVersion: ptr(strconv.Itoa(MaxProtocolVersion)),
		Time:            ptr(strconv.FormatInt(sone.Millis(s.Time), 10)),
		Client:          &wireClient{Name: c.client.Name, Version: c.client.Version},
		Profile:         encodeProfile(s.Profile, albums),
		Posts:           &wirePosts{},
		Replies:         &wireReplies{},
		PostLikes:       &wirePostLikes{IDs: sortedCopy(s.LikedPostIDs)},
		ReplyLikes:      &wireReplyLikes{IDs: sortedCopy(s.LikedReplyIDs)},
		Albums:          &wireAlbums{},
	}

	posts := append([]sone.Post(nil), s.Posts...)
	sone.SortPostsByTime(posts)
	for _, p := range posts {
		w.Posts.Post = append(w.Posts.Post, wirePost{
			ID:        ptr(p.ID),
			Recipient: optional(p.RecipientID),
			Time:      ptr(strconv.FormatInt(sone.Millis(p.Time), 10)),
			Text:      ptr(p.Text),
		})
	}

	replies := append([]sone.Reply(nil), s.Replies...)
	sone.SortRepliesNewestFirst(replies)
	for _, r := range replies {
		w.Replies.Reply = append(w.Replies.Reply, wireReply{
			ID:     ptr(r.ID),
			PostID: ptr(r.PostID),
			Time:   ptr(strconv.FormatInt(sone.Millis(r.Time), 10)),
			Text:   ptr(r.Text),
		})
	}

	for _, a := range albums {
		wa := wireAlbum{
			ID:          ptr(a.ID),
			Parent:      optional(a.ParentID),
			Title:       ptr(a.Title),
			Description: ptr(a.Description),
			AlbumImage:  optional(a.AlbumImageID),
			Images:      &wireImages{},
		}
		for _, img := range a.Images {
			key := ptr(img.Key)
			if sc == scopeLocal {
				key = optional(img.Key)
			}
			wa.Images.Image = append(wa.Images.Image, wireImage{
				ID:           ptr(img.ID),
				CreationTime: ptr(strconv.FormatInt(sone.Millis(img.CreationTime), 10)),
				Key:          key,
				Title:        ptr(img.Title),
				Description:  ptr(img.Description),
				Width:        ptr(strconv.Itoa(img.Width)),
				Height:       ptr(strconv.Itoa(img.Height)),
			})
		}
		w.Albums.Album = append(w.Albums.Album, wa)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "\t")
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// encodeProfile drops an avatar that does not refer to an image of albums.
func encodeProfile(p sone.Profile, albums []sone.Album) *wireProfile {
	wp := &wireProfile{
		FirstName:  optional(p.FirstName),
		MiddleName: optional(p.MiddleName),
		LastName:   optional(p.LastName),
		BirthDay:   optionalInt(p.BirthDay),
		BirthMonth: optionalInt(p.BirthMonth),
		BirthYear:  optionalInt(p.BirthYear),
		Fields:     &wireFields{},
	}
	if p.AvatarID != "" && hasImage(albums, p.AvatarID) {
		wp.Avatar = ptr(p.AvatarID)
	}
	for _, f := range p.Fields() {
		wp.Fields.Field = append(wp.Fields.Field, wireField{Name: ptr(f.Name), Value: ptr(f.Value)})
	}
	return wp
}

func optionalInt(v int) *string {
	if v == 0 {
		return nil
	}
	return ptr(strconv.Itoa(v))
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
