// Package document converts identity snapshots to and from the published XML
// document format.
package document

import "github.com/TheSeeker/Sone-sub000/internal/sone"

const (
	// MaxProtocolVersion is the highest document protocol version understood.
	MaxProtocolVersion = 0

	// RecipientIDLength is the length of a valid recipient identity id. Recipients
	// of any other length are dropped from decoded posts.
	RecipientIDLength = 43

	// PageName is the manifest name of the human-viewable rendering.
	PageName = "index.html"
)

// scope selects what a document carries: what readers of the published
// document may see, or the complete local state kept between runs.
type scope int

const (
	scopePublished scope = iota
	scopeLocal
)

// Codec decodes fetched documents and encodes local snapshots.
type Codec struct {
	builders *sone.Builders
	client   sone.Client
	logger   sone.Logger
}

// NewCodec creates a Codec. Decoded entities are constructed through builders;
// client identifies this software in encoded documents.
func NewCodec(builders *sone.Builders, client sone.Client, logger sone.Logger) *Codec {
	if logger == nil {
		logger = sone.NewNopLogger()
	}
	return &Codec{builders: builders, client: client, logger: logger}
}
