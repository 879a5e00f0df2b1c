package sone

import "context"

// Document is one fetched edition of a published identity document.
type Document struct {
	Address string
	Edition int64
	Data    []byte
}

// ManifestEntry is one named artifact published alongside the primary document.
type ManifestEntry struct {
	Name        string
	ContentType string
	Data        []byte
}

// Substrate stores and retrieves versioned documents by address.
// Each successful Publish creates a new, higher edition at the address.
type Substrate interface {
	// Fetch returns the latest edition at address, or ErrDocumentNotFound.
	Fetch(ctx context.Context, address string) (*Document, error)

	// Publish stores document under DocumentName together with the auxiliary
	// manifest entries as a new edition, and returns the edition number.
	Publish(ctx context.Context, address string, document []byte, manifest []ManifestEntry) (int64, error)

	// Subscribe delivers edition numbers as they appear at address. The channel
	// is closed when ctx is done. Notifications may repeat or arrive out of order.
	Subscribe(ctx context.Context, address string) (<-chan int64, error)
}

// DocumentName is the fixed name of the primary identity document within an edition.
const DocumentName = "sone.xml"

// Identity is an entry of the identity directory.
type Identity struct {
	ID             string
	Name           string
	RequestAddress string
	InsertAddress  string
	Local          bool
}

// Directory supplies known identities and their public addresses.
type Directory interface {
	Identities(ctx context.Context) ([]Identity, error)
	ResolveIdentity(ctx context.Context, id string) (address string, ok bool, err error)
}

// PublishCheckpoint records the outcome of the last successful publish of a local identity.
type PublishCheckpoint struct {
	SoneID      string
	Fingerprint string
	Edition     int64
	PublishedAt int64
}

// Checkpoints persists publish checkpoints so a restart does not republish
// unchanged content.
type Checkpoints interface {
	LoadPublishCheckpoint(ctx context.Context, soneID string) (*PublishCheckpoint, error)
	SavePublishCheckpoint(ctx context.Context, cp PublishCheckpoint) error
}
