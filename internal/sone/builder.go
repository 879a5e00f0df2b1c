package sone

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// Builders creates entity builders that share an id source, a clock and a validator.
type Builders struct {
	idgen    IDGenerator
	clock    Clock
	validate *validator.Validate
}

// NewBuilders creates a Builders using the given id source and clock.
func NewBuilders(idgen IDGenerator, clock Clock) *Builders {
	v := validator.New()
	// RegisterValidation only fails for an empty tag or nil func.
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return &Builders{idgen: idgen, clock: clock, validate: v}
}

// entityBuilder is the contract every builder shares: an explicit id or a random
// one (not both), and an explicit time or the current time (not both).
type entityBuilder[B any] struct {
	self     B
	owner    *Builders
	id       string
	randomID bool
	at       time.Time
	hasTime  bool
	now      bool
}

// WithID sets an explicit id.
func (b *entityBuilder[B]) WithID(id string) B {
	b.id = id
	return b.self
}

// RandomID requests a generated id.
func (b *entityBuilder[B]) RandomID() B {
	b.randomID = true
	return b.self
}

// At sets an explicit time.
func (b *entityBuilder[B]) At(t time.Time) B {
	b.at, b.hasTime = t, true
	return b.self
}

// CurrentTime requests the builder clock's time.
func (b *entityBuilder[B]) CurrentTime() B {
	b.now = true
	return b.self
}

func (b *entityBuilder[B]) resolveID() (string, error) {
	switch {
	case b.id != "" && b.randomID:
		return "", fmt.Errorf("%w: both explicit and random id requested", ErrInvalidEntity)
	case b.randomID:
		return b.owner.idgen.New(), nil
	case b.id == "":
		return "", fmt.Errorf("%w: no id given", ErrInvalidEntity)
	default:
		return b.id, nil
	}
}

func (b *entityBuilder[B]) resolveTime() (time.Time, error) {
	switch {
	case b.hasTime && b.now:
		return time.Time{}, fmt.Errorf("%w: both explicit and current time requested", ErrInvalidEntity)
	case b.now:
		return b.owner.clock.Now(), nil
	case !b.hasTime:
		return time.Time{}, fmt.Errorf("%w: no time given", ErrInvalidEntity)
	default:
		return b.at, nil
	}
}

func (b *entityBuilder[B]) check(entity any) error {
	if err := b.owner.validate.Struct(entity); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	return nil
}

// PostBuilder builds a Post.
type PostBuilder struct {
	entityBuilder[*PostBuilder]
	sender    string
	recipient string
	text      string
}

// Post starts a new post builder.
func (bs *Builders) Post() *PostBuilder {
	b := &PostBuilder{}
	b.self, b.owner = b, bs
	return b
}

func (b *PostBuilder) From(soneID string) *PostBuilder { b.sender = soneID; return b }
func (b *PostBuilder) To(soneID string) *PostBuilder   { b.recipient = soneID; return b }
func (b *PostBuilder) Text(text string) *PostBuilder   { b.text = text; return b }

// Build validates the collected data and returns the post.
func (b *PostBuilder) Build() (Post, error) {
	id, err := b.resolveID()
	if err != nil {
		return Post{}, err
	}
	t, err := b.resolveTime()
	if err != nil {
		return Post{}, err
	}
	p := Post{ID: id, SoneID: b.sender, RecipientID: b.recipient, Time: t, Text: b.text}
	if err := b.check(p); err != nil {
		return Post{}, err
	}
	return p, nil
}

// ReplyBuilder builds a Reply.
type ReplyBuilder struct {
	entityBuilder[*ReplyBuilder]
	sender string
	postID string
	text   string
}

// Reply starts a new reply builder.
func (bs *Builders) Reply() *ReplyBuilder {
	b := &ReplyBuilder{}
	b.self, b.owner = b, bs
	return b
}

func (b *ReplyBuilder) From(soneID string) *ReplyBuilder   { b.sender = soneID; return b }
func (b *ReplyBuilder) ToPost(postID string) *ReplyBuilder { b.postID = postID; return b }
func (b *ReplyBuilder) Text(text string) *ReplyBuilder     { b.text = text; return b }

// Build validates the collected data and returns the reply.
func (b *ReplyBuilder) Build() (Reply, error) {
	id, err := b.resolveID()
	if err != nil {
		return Reply{}, err
	}
	t, err := b.resolveTime()
	if err != nil {
		return Reply{}, err
	}
	r := Reply{ID: id, SoneID: b.sender, PostID: b.postID, Time: t, Text: b.text}
	if err := b.check(r); err != nil {
		return Reply{}, err
	}
	return r, nil
}

// AlbumBuilder builds an Album. Albums carry no time.
type AlbumBuilder struct {
	entityBuilder[*AlbumBuilder]
	album Album
}

// Album starts a new album builder.
func (bs *Builders) Album() *AlbumBuilder {
	b := &AlbumBuilder{}
	b.self, b.owner = b, bs
	return b
}

func (b *AlbumBuilder) By(soneID string) *AlbumBuilder      { b.album.SoneID = soneID; return b }
func (b *AlbumBuilder) Parent(albumID string) *AlbumBuilder { b.album.ParentID = albumID; return b }
func (b *AlbumBuilder) Title(title string) *AlbumBuilder    { b.album.Title = title; return b }
func (b *AlbumBuilder) Description(d string) *AlbumBuilder  { b.album.Description = d; return b }
func (b *AlbumBuilder) AlbumImage(imageID string) *AlbumBuilder {
	b.album.AlbumImageID = imageID
	return b
}

// Build validates the collected data and returns the album without images.
func (b *AlbumBuilder) Build() (Album, error) {
	id, err := b.resolveID()
	if err != nil {
		return Album{}, err
	}
	a := b.album
	a.ID = id
	a.Images = nil
	if err := b.check(a); err != nil {
		return Album{}, err
	}
	return a, nil
}

// ImageBuilder builds an Image.
type ImageBuilder struct {
	entityBuilder[*ImageBuilder]
	image Image
}

// Image starts a new image builder.
func (bs *Builders) Image() *ImageBuilder {
	b := &ImageBuilder{}
	b.self, b.owner = b, bs
	return b
}

func (b *ImageBuilder) By(soneID string) *ImageBuilder       { b.image.SoneID = soneID; return b }
func (b *ImageBuilder) InAlbum(albumID string) *ImageBuilder { b.image.AlbumID = albumID; return b }
func (b *ImageBuilder) Key(key string) *ImageBuilder         { b.image.Key = key; return b }
func (b *ImageBuilder) Title(title string) *ImageBuilder     { b.image.Title = title; return b }
func (b *ImageBuilder) Description(d string) *ImageBuilder   { b.image.Description = d; return b }
func (b *ImageBuilder) Dimensions(width, height int) *ImageBuilder {
	b.image.Width, b.image.Height = width, height
	return b
}

// Build validates the collected data and returns the image.
func (b *ImageBuilder) Build() (Image, error) {
	id, err := b.resolveID()
	if err != nil {
		return Image{}, err
	}
	t, err := b.resolveTime()
	if err != nil {
		return Image{}, err
	}
	img := b.image
	img.ID, img.CreationTime = id, t
	if err := b.check(img); err != nil {
		return Image{}, err
	}
	return img, nil
}
