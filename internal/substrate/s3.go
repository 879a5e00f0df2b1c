package substrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/TheSeeker/Sone-sub000/internal/config"
	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

// maxEditionClaims bounds how often Publish retries after losing an edition
// to a concurrent publisher.
const maxEditionClaims = 8

// S3API is the subset of the S3 client used by S3Substrate.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Substrate stores editions as objects in a bucket:
//
//	<prefix>/<address>/latest
//	<prefix>/<address>/<edition>/sone.xml
//	<prefix>/<address>/<edition>/<manifest entry name>
//
// The primary document of an edition is written with If-None-Match, so two
// publishers racing for the same edition cannot overwrite each other.
type S3Substrate struct {
	client       S3API
	uploader     *manager.Uploader
	bucket       string
	prefix       string
	pollInterval time.Duration
	logger       sone.Logger
}

// NewS3Substrate creates a substrate on top of an S3 client.
func NewS3Substrate(client S3API, bucket, prefix string, pollInterval time.Duration, logger sone.Logger) *S3Substrate {
	if logger == nil {
		logger = sone.NewNopLogger()
	}
	if pollInterval <= 0 {
		pollInterval = config.DefaultSubstratePollInterval
	}
	return &S3Substrate{
		client:       client,
		uploader:     manager.NewUploader(client),
		bucket:       bucket,
		prefix:       strings.Trim(prefix, "/"),
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// NewS3SubstrateFromConfig builds the S3 client from the substrate configuration.
// Static credentials are used when an access key is configured, otherwise the
// default AWS credential chain applies.
func NewS3SubstrateFromConfig(ctx context.Context, cfg config.SubstrateConfig, logger sone.Logger) (*S3Substrate, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Substrate(client, cfg.S3Bucket, cfg.S3Prefix, cfg.PollInterval.Duration, logger), nil
}

func (s *S3Substrate) key(address string, parts ...string) string {
	elems := append([]string{s.prefix, address}, parts...)
	return strings.TrimPrefix(path.Join(elems...), "/")
}

// Fetch returns the edition the latest pointer names.
func (s *S3Substrate) Fetch(ctx context.Context, address string) (*sone.Document, error) {
	edition, err := s.latest(ctx, address)
	if err != nil {
		return nil, err
	}
	if edition == 0 {
		return nil, fmt.Errorf("%w: %s", sone.ErrDocumentNotFound, address)
	}
	data, found, err := s.get(ctx, s.key(address, strconv.FormatInt(edition, 10), sone.DocumentName))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s edition %d", sone.ErrDocumentNotFound, address, edition)
	}
	return &sone.Document{Address: address, Edition: edition, Data: data}, nil
}

// Publish claims the next free edition, uploads the manifest entries and
// finally advances the latest pointer.
func (s *S3Substrate) Publish(ctx context.Context, address string, document []byte, manifest []sone.ManifestEntry) (int64, error) {
	latest, err := s.latest(ctx, address)
	if err != nil {
		return 0, err
	}

	edition := latest + 1
	for claims := 0; ; claims++ {
		err := s.put(ctx, s.key(address, strconv.FormatInt(edition, 10), sone.DocumentName), "text/xml; charset=utf-8", document, true)
		if err == nil {
			break
		}
		if !isPreconditionFailed(err) || claims+1 >= maxEditionClaims {
			return 0, fmt.Errorf("%w: uploading document: %v", sone.ErrSubstrate, err)
		}
		edition++
	}

	for _, e := range manifest {
		if e.Name == "" || e.Name == sone.DocumentName || strings.Contains(e.Name, "/") {
			return 0, fmt.Errorf("%w: invalid manifest entry name %q", sone.ErrSubstrate, e.Name)
		}
		if err := s.put(ctx, s.key(address, strconv.FormatInt(edition, 10), e.Name), e.ContentType, e.Data, false); err != nil {
			return 0, fmt.Errorf("%w: uploading %s: %v", sone.ErrSubstrate, e.Name, err)
		}
	}

	if current, err := s.latest(ctx, address); err == nil && current > edition {
		return edition, nil
	}
	if err := s.put(ctx, s.key(address, latestName), "text/plain", []byte(strconv.FormatInt(edition, 10)), false); err != nil {
		return 0, fmt.Errorf("%w: updating latest pointer: %v", sone.ErrSubstrate, err)
	}
	return edition, nil
}

// Subscribe polls the latest pointer and delivers every increase, starting
// with the current edition.
func (s *S3Substrate) Subscribe(ctx context.Context, address string) (<-chan int64, error) {
	ch := make(chan int64, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		var last int64
		for {
			latest, err := s.latest(ctx, address)
			switch {
			case err != nil && ctx.Err() == nil:
				s.logger.Warn("polling latest edition", "address", address, "error", err)
			case latest > last:
				last = latest
				offer(ch, latest)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch, nil
}

func (s *S3Substrate) latest(ctx context.Context, address string) (int64, error) {
	data, found, err := s.get(ctx, s.key(address, latestName))
	if err != nil || !found {
		return 0, err
	}
	edition, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing latest pointer: %v", sone.ErrSubstrate, err)
	}
	return edition, nil
}

func (s *S3Substrate) get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: getting %s: %v", sone.ErrSubstrate, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading %s: %v", sone.ErrSubstrate, key, err)
	}
	return data, true, nil
}

func (s *S3Substrate) put(ctx context.Context, key, contentType string, data []byte, exclusive bool) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if exclusive {
		in.IfNoneMatch = aws.String("*")
	}
	_, err := s.uploader.Upload(ctx, in)
	return err
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}

// Compile-time check that S3Substrate implements sone.Substrate interface
var _ sone.Substrate = (*S3Substrate)(nil)
