package sone

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint returns a digest over the publishable content of an identity:
// profile, posts and replies ordered by time, sorted likes and every album
// subtree that contains at least one published image.
//
// Identity metadata (time, edition, status, client, addresses) is excluded, so
// two snapshots with the same content always share a fingerprint.
func Fingerprint(s Sone) string {
	h := sha256.New()

	io.WriteString(h, "Profile(")
	writeProfile(h, s.Profile)
	io.WriteString(h, ")")

	posts := append([]Post(nil), s.Posts...)
	sort.Slice(posts, func(i, j int) bool { return postLess(posts[i], posts[j]) })
	io.WriteString(h, "Posts(")
	for _, p := range posts {
		fmt.Fprintf(h, "Post(%q,%q,%d,%q)", p.ID, p.RecipientID, Millis(p.Time), p.Text)
	}
	io.WriteString(h, ")")

	replies := append([]Reply(nil), s.Replies...)
	sort.Slice(replies, func(i, j int) bool { return replyLess(replies[i], replies[j]) })
	io.WriteString(h, "Replies(")
	for _, r := range replies {
		fmt.Fprintf(h, "Reply(%q,%q,%d,%q)", r.ID, r.PostID, Millis(r.Time), r.Text)
	}
	io.WriteString(h, ")")

	writeIDs(h, "LikedPosts", s.LikedPostIDs)
	writeIDs(h, "LikedReplies", s.LikedReplyIDs)

	io.WriteString(h, "Albums(")
	tree := NewAlbumTree(s.Albums)
	for _, a := range tree.Children("") {
		writeAlbum(h, tree, a)
	}
	io.WriteString(h, ")")

	return hex.EncodeToString(h.Sum(nil))
}

func writeProfile(w io.Writer, p Profile) {
	fmt.Fprintf(w, "FirstName(%q)MiddleName(%q)LastName(%q)", p.FirstName, p.MiddleName, p.LastName)
	fmt.Fprintf(w, "BirthDay(%d)BirthMonth(%d)BirthYear(%d)", p.BirthDay, p.BirthMonth, p.BirthYear)
	fmt.Fprintf(w, "Avatar(%q)", p.AvatarID)
	io.WriteString(w, "Fields(")
	for _, f := range p.fields {
		fmt.Fprintf(w, "Field(%q,%q)", f.Name, f.Value)
	}
	io.WriteString(w, ")")
}

func writeIDs(w io.Writer, label string, ids []string) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	quoted := make([]string, len(sorted))
	for i, id := range sorted {
		quoted[i] = strconv.Quote(id)
	}
	fmt.Fprintf(w, "%s(%s)", label, strings.Join(quoted, ","))
}

func writeAlbum(w io.Writer, tree *AlbumTree, a Album) {
	if !tree.HasPublishedImages(a.ID) {
		return
	}
	fmt.Fprintf(w, "Album(%q,%q,%q,%q)", a.ID, a.Title, a.Description, a.AlbumImageID)
	io.WriteString(w, "Images(")
	for _, img := range a.Images {
		if !img.Published() {
			continue
		}
		fmt.Fprintf(w, "Image(%q,%q,%d,%q,%q,%d,%d)", img.ID, img.Key, Millis(img.CreationTime),
			img.Title, img.Description, img.Width, img.Height)
	}
	io.WriteString(w, ")Albums(")
	for _, child := range tree.Children(a.ID) {
		writeAlbum(w, tree, child)
	}
	io.WriteString(w, "))")
}

// SortPostsByTime orders posts oldest first; ties are broken by id.
func SortPostsByTime(posts []Post) {
	sort.Slice(posts, func(i, j int) bool { return postLess(posts[i], posts[j]) })
}

// SortRepliesNewestFirst orders replies newest first; ties are broken by id.
func SortRepliesNewestFirst(replies []Reply) {
	sort.Slice(replies, func(i, j int) bool { return replyLess(replies[j], replies[i]) })
}

func postLess(a, b Post) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	return a.ID < b.ID
}

func replyLess(a, b Reply) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	return a.ID < b.ID
}
