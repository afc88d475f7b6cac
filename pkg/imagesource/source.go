// Package imagesource resolves raw firmware image references to local files.
//
// A reference is either a filesystem path (optionally prefixed with
// file://) or an s3://bucket/key URI. S3 objects are downloaded to a
// temporary file that is removed by Image.Close.
package imagesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Sentinel errors for image resolution.
var (
	ErrInvalidRef    = errors.New("invalid image reference")
	ErrImageNotFound = errors.New("image not found")
	ErrAccessDenied  = errors.New("image access denied")
	ErrUnavailable   = errors.New("image store unavailable")
)

// Scheme identifies where an image lives.
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeS3   Scheme = "s3"
)

// Ref is a parsed image reference.
type Ref struct {
	Scheme Scheme
	Path   string // SchemeFile
	Bucket string // SchemeS3
	Key    string // SchemeS3
}

func (r Ref) String() string {
	if r.Scheme == SchemeS3 {
		return "s3://" + r.Bucket + "/" + r.Key
	}
	return r.Path
}

// ParseRef parses an image reference.
func ParseRef(ref string) (Ref, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Ref{}, fmt.Errorf("%w: empty", ErrInvalidRef)
	}
	switch {
	case strings.HasPrefix(ref, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
		if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
			return Ref{}, fmt.Errorf("%w: %q: expected s3://bucket/key", ErrInvalidRef, ref)
		}
		return Ref{Scheme: SchemeS3, Bucket: bucket, Key: key}, nil
	case strings.HasPrefix(ref, "file://"):
		p := strings.TrimPrefix(ref, "file://")
		if p == "" {
			return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
		}
		return Ref{Scheme: SchemeFile, Path: filepath.FromSlash(p)}, nil
	case strings.Contains(ref, "://"):
		return Ref{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidRef, ref)
	default:
		return Ref{Scheme: SchemeFile, Path: ref}, nil
	}
}

// Image is a local image file ready to be flashed.
type Image struct {
	Ref  Ref
	Path string

	temp bool
}

// Close removes the downloaded copy of a remote image. Local images are
// left untouched.
func (i *Image) Close() error {
	if i == nil || !i.temp {
		return nil
	}
	if err := os.Remove(i.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// objectGetter is the subset of the S3 client used for downloads.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Resolver fetches images.
type Resolver struct {
	s3cfg   S3Config
	tempDir string
	logger  *zap.Logger

	mu        sync.Mutex
	client    objectGetter
	newClient func(ctx context.Context, cfg S3Config) (objectGetter, error)
}

// Options configures a Resolver.
type Options struct {
	S3 S3Config

	// TempDir receives downloaded images. Empty uses os.TempDir.
	TempDir string

	Logger *zap.Logger
}

// NewResolver returns a Resolver. The S3 client is created on first use.
func NewResolver(opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		s3cfg:   opts.S3,
		tempDir: opts.TempDir,
		logger:  logger,
		newClient: func(ctx context.Context, cfg S3Config) (objectGetter, error) {
			client, err := newS3Client(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

// Fetch resolves ref to a local file. Callers must Close the image.
func (r *Resolver) Fetch(ctx context.Context, ref string) (*Image, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	switch parsed.Scheme {
	case SchemeS3:
		return r.fetchS3(ctx, parsed)
	default:
		return fetchLocal(parsed)
	}
}

func fetchLocal(ref Ref) (*Image, error) {
	abs, err := filepath.Abs(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, abs)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrAccessDenied, abs)
		}
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrInvalidRef, abs)
	}
	return &Image{Ref: ref, Path: abs}, nil
}

func (r *Resolver) s3Client(ctx context.Context) (objectGetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	client, err := r.newClient(ctx, r.s3cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	r.client = client
	return client, nil
}

func (r *Resolver) fetchS3(ctx context.Context, ref Ref) (*Image, error) {
	client, err := r.s3Client(ctx)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Downloading image", zap.String("bucket", ref.Bucket), zap.String("key", ref.Key))
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return nil, &FetchError{Ref: ref, Err: classifyS3Error(err)}
	}
	defer func() { _ = out.Body.Close() }()

	f, err := os.CreateTemp(r.tempDir, "goflash-image-*"+path.Ext(ref.Key))
	if err != nil {
		return nil, fmt.Errorf("create image file: %w", err)
	}
	n, copyErr := io.Copy(f, out.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(f.Name())
		if copyErr != nil {
			return nil, &FetchError{Ref: ref, Err: fmt.Errorf("%w: %v", ErrUnavailable, copyErr)}
		}
		return nil, fmt.Errorf("write image file: %w", closeErr)
	}

	r.logger.Debug("Image downloaded", zap.String("path", f.Name()), zap.Int64("bytes", n))
	return &Image{Ref: ref, Path: f.Name(), temp: true}, nil
}
