package substrate

import (
	"context"
	"fmt"

	"github.com/TheSeeker/Sone-sub000/internal/config"
	"github.com/TheSeeker/Sone-sub000/internal/encryption"
	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// NewSubstrateFromConfig creates a Substrate implementation based on the
// substrate config type. A non-nil sealer wraps the result in a SealedSubstrate.
func NewSubstrateFromConfig(ctx context.Context, cfg config.SubstrateConfig, sealer encryption.Sealer, logger sone.Logger) (sone.Substrate, error) {
	var s sone.Substrate
	switch cfg.Type {
	case "memory":
		s = NewMemorySubstrate()
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem substrate requires fs_root to be set")
		}
		fs, err := NewFileSystemSubstrate(cfg.FSRoot, logger)
		if err != nil {
			return nil, err
		}
		s = fs
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 substrate requires s3_bucket to be set")
		}
		s3s, err := NewS3SubstrateFromConfig(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		s = s3s
	default:
		return nil, fmt.Errorf("unknown substrate type: %s", cfg.Type)
	}

	if sealer != nil {
		s = NewSealedSubstrate(s, sealer)
	}
	return s, nil
}
