package substrate

import (
	"context"
	"fmt"

	"github.com/TheSeeker/Sone-sub000/internal/encryption"
	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// SealedContentType marks manifest entries that were sealed before publishing.
const SealedContentType = "application/age-encryption"

// SealedSubstrate encrypts everything it publishes and decrypts what it
// fetches, delegating storage to another substrate.
type SealedSubstrate struct {
	inner  sone.Substrate
	sealer encryption.Sealer
}

// NewSealedSubstrate wraps inner so documents are stored sealed.
func NewSealedSubstrate(inner sone.Substrate, sealer encryption.Sealer) *SealedSubstrate {
	return &SealedSubstrate{inner: inner, sealer: sealer}
}

func (s *SealedSubstrate) Fetch(ctx context.Context, address string) (*sone.Document, error) {
	doc, err := s.inner.Fetch(ctx, address)
	if err != nil {
		return nil, err
	}
	data, err := s.sealer.Open(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s edition %d: %v", sone.ErrSubstrate, address, doc.Edition, err)
	}
	return &sone.Document{Address: doc.Address, Edition: doc.Edition, Data: data}, nil
}

func (s *SealedSubstrate) Publish(ctx context.Context, address string, document []byte, manifest []sone.ManifestEntry) (int64, error) {
	sealedDoc, err := s.sealer.Seal(document)
	if err != nil {
		return 0, fmt.Errorf("%w: sealing document: %v", sone.ErrSubstrate, err)
	}
	sealed := make([]sone.ManifestEntry, 0, len(manifest))
	for _, e := range manifest {
		data, err := s.sealer.Seal(e.Data)
		if err != nil {
			return 0, fmt.Errorf("%w: sealing %s: %v", sone.ErrSubstrate, e.Name, err)
		}
		sealed = append(sealed, sone.ManifestEntry{Name: e.Name, ContentType: SealedContentType, Data: data})
	}
	return s.inner.Publish(ctx, address, sealedDoc, sealed)
}

func (s *SealedSubstrate) Subscribe(ctx context.Context, address string) (<-chan int64, error) {
	return s.inner.Subscribe(ctx, address)
}

var _ sone.Substrate = (*SealedSubstrate)(nil)
