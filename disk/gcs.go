package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// gcsBucket abstracts a GCS bucket handle so tests can avoid real GCS calls.
type gcsBucket interface {
	Object(name string) gcsObject
	SignedURL(object string, opts *storage.SignedURLOptions) (string, error)
}

// gcsObject abstracts a GCS object handle.
type gcsObject interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context, contentType string) io.WriteCloser
	Delete(ctx context.Context) error
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
}

type realGCSBucket struct{ bh *storage.BucketHandle }

func (r *realGCSBucket) Object(name string) gcsObject {
	return &realGCSObject{r.bh.Object(name)}
}

func (r *realGCSBucket) SignedURL(object string, opts *storage.SignedURLOptions) (string, error) {
	return r.bh.SignedURL(object, opts)
}

type realGCSObject struct{ oh *storage.ObjectHandle }

func (r *realGCSObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return r.oh.NewReader(ctx)
}

func (r *realGCSObject) NewWriter(ctx context.Context, contentType string) io.WriteCloser {
	w := r.oh.NewWriter(ctx)
	w.ContentType = contentType
	return w
}

func (r *realGCSObject) Delete(ctx context.Context) error { return r.oh.Delete(ctx) }

func (r *realGCSObject) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	return r.oh.Attrs(ctx)
}

// GCSDisk stores objects in a Google Cloud Storage bucket and issues V4
// signed URLs for temporary access.
type GCSDisk struct {
	bucket     gcsBucket
	prefix     string
	accessID   string
	privateKey []byte
}

// NewGCSDiskFromConfig creates the storage client from disk configuration.
// GoogleAccessID and PrivateKeyFile are optional; without them the client
// derives signing credentials from its own service account.
func NewGCSDiskFromConfig(ctx context.Context, cfg Config) (*GCSDisk, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs disk: bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs disk: create client: %w", err)
	}

	d := &GCSDisk{
		bucket:   &realGCSBucket{client.Bucket(cfg.Bucket)},
		prefix:   cfg.Prefix,
		accessID: cfg.GoogleAccessID,
	}
	if cfg.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("gcs disk: read private key: %w", err)
		}
		d.privateKey = key
	}
	return d, nil
}

func (g *GCSDisk) objectName(key string) string {
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

func (g *GCSDisk) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	w := g.bucket.Object(g.objectName(key)).NewWriter(ctx, contentType)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs disk: write %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs disk: finalize %q: %w", key, err)
	}
	return nil
}

func (g *GCSDisk) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := g.bucket.Object(g.objectName(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs disk: read %q: %w", key, err)
	}
	return rc, nil
}

func (g *GCSDisk) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.Stat(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (g *GCSDisk) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(g.objectName(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs disk: delete %q: %w", key, err)
	}
	return nil
}

func (g *GCSDisk) Stat(ctx context.Context, key string) (FileInfo, error) {
	attrs, err := g.bucket.Object(g.objectName(key)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("gcs disk: attrs %q: %w", key, err)
	}
	return FileInfo{
		Key:         key,
		Size:        attrs.Size,
		ModTime:     attrs.Updated,
		ContentType: attrs.ContentType,
	}, nil
}

func (g *GCSDisk) Features() Features {
	return Features{TemporaryURL: true}
}

func (g *GCSDisk) SignedURL(context.Context, string) (string, error) {
	return "", ErrUnsupported
}

// TemporaryURL returns a V4 signed GET URL valid until expires.
func (g *GCSDisk) TemporaryURL(_ context.Context, key string, expires time.Time) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        expires,
		GoogleAccessID: g.accessID,
		PrivateKey:     g.privateKey,
	}
	u, err := g.bucket.SignedURL(g.objectName(key), opts)
	if err != nil {
		return "", fmt.Errorf("gcs disk: sign %q: %w", key, err)
	}
	return u, nil
}
