package document

import "encoding/xml"

// The wire structs mirror the document grammar. Pointer fields distinguish an
// absent element (nil) from an empty one, which matters for required values.

type wireSone struct {
	XMLName         xml.Name        `xml:"sone"`
	ProtocolVersion *string         `xml:"protocol-version"`
	Time            *string         `xml:"time"`
	Client          *wireClient     `xml:"client"`
	Profile         *wireProfile    `xml:"profile"`
	Posts           *wirePosts      `xml:"posts"`
	Replies         *wireReplies    `xml:"replies"`
	PostLikes       *wirePostLikes  `xml:"post-likes"`
	ReplyLikes      *wireReplyLikes `xml:"reply-likes"`
	Albums          *wireAlbums     `xml:"albums"`
}

type wireClient struct {
	Name    string `xml:"name"`
	Version string `xml:"version"`
}

type wireProfile struct {
	FirstName  *string     `xml:"first-name"`
	MiddleName *string     `xml:"middle-name"`
	LastName   *string     `xml:"last-name"`
	BirthDay   *string     `xml:"birth-day"`
	BirthMonth *string     `xml:"birth-month"`
	BirthYear  *string     `xml:"birth-year"`
	Avatar     *string     `xml:"avatar"`
	Fields     *wireFields `xml:"fields"`
}

type wireFields struct {
	Field []wireField `xml:"field"`
}

type wireField struct {
	Name  *string `xml:"field-name"`
	Value *string `xml:"field-value"`
}

type wirePosts struct {
	Post []wirePost `xml:"post"`
}

type wirePost struct {
	ID        *string `xml:"id"`
	Recipient *string `xml:"recipient"`
	Time      *string `xml:"time"`
	Text      *string `xml:"text"`
}

type wireReplies struct {
	Reply []wireReply `xml:"reply"`
}

type wireReply struct {
	ID     *string `xml:"id"`
	PostID *string `xml:"post-id"`
	Time   *string `xml:"time"`
	Text   *string `xml:"text"`
}

type wirePostLikes struct {
	IDs []string `xml:"post-like"`
}

type wireReplyLikes struct {
	IDs []string `xml:"reply-like"`
}

type wireAlbums struct {
	Album []wireAlbum `xml:"album"`
}

type wireAlbum struct {
	ID          *string     `xml:"id"`
	Parent      *string     `xml:"parent"`
	Title       *string     `xml:"title"`
	Description *string     `xml:"description"`
	AlbumImage  *string     `xml:"album-image"`
	Images      *wireImages `xml:"images"`
}

type wireImages struct {
	Image []wireImage `xml:"image"`
}

type wireImage struct {
	ID           *string `xml:"id"`
	CreationTime *string `xml:"creation-time"`
	Key          *string `xml:"key"`
	Title        *string `xml:"title"`
	Description  *string `xml:"description"`
	Width        *string `xml:"width"`
	Height       *string `xml:"height"`
}

func ptr(s string) *string { return &s }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func value(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
