package artifact

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/GoCodeAlone/artifacts/disk"
	"github.com/GoCodeAlone/artifacts/signing"
	"github.com/google/uuid"
)

// DefaultTemporaryTTL is the lifetime of a temporary signed URL when the
// caller does not pass one.
const DefaultTemporaryTTL = 60 * time.Minute

// Route paths served by the api package.
const (
	StreamPath   = "/artifacts/%s/stream"
	DownloadPath = "/artifacts/%s/download"
	PublicPath   = "/storage/%s/%s"
)

// URLBuilder derives the URLs an artifact is reachable under from its disk's
// capability.
type URLBuilder struct {
	base       string
	signer     *signing.Signer
	disks      *disk.Registry
	defaultTTL time.Duration
	now        func() time.Time
}

// URLOption configures a URLBuilder.
type URLOption func(*URLBuilder)

// WithDefaultTTL sets the lifetime used when TemporarySignedURL gets ttl <= 0.
func WithDefaultTTL(ttl time.Duration) URLOption {
	return func(b *URLBuilder) {
		if ttl > 0 {
			b.defaultTTL = ttl
		}
	}
}

// WithURLClock overrides the time source used for expiries.
func WithURLClock(now func() time.Time) URLOption {
	return func(b *URLBuilder) { b.now = now }
}

// NewURLBuilder creates a URLBuilder for an application reachable at
// baseURL.
func NewURLBuilder(baseURL string, signer *signing.Signer, disks *disk.Registry, opts ...URLOption) (*URLBuilder, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid application base URL %q", baseURL)
	}
	b := &URLBuilder{
		base:       strings.TrimRight(baseURL, "/"),
		signer:     signer,
		disks:      disks,
		defaultTTL: DefaultTemporaryTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// RawURL returns the direct public URL of the object. Private disks, and
// disks that are no longer registered, have none.
func (b *URLBuilder) RawURL(a *Artifact) (string, bool) {
	c, err := b.disks.Capability(a.Disk)
	if err != nil || !c.Public {
		return "", false
	}
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/") + "/" + escapePath(a.Path), true
	}
	return b.base + fmt.Sprintf(PublicPath, url.PathEscape(a.Disk), escapePath(a.Path)), true
}

// StreamURL returns the unsigned inline streaming URL.
func (b *URLBuilder) StreamURL(a *Artifact) string {
	return b.base + fmt.Sprintf(StreamPath, a.ID)
}

// SignedURL returns a non-expiring signed URL: the disk's own when it
// supports one, else the application's signed download route.
func (b *URLBuilder) SignedURL(ctx context.Context, a *Artifact) (string, error) {
	c, d, err := b.resolve(a)
	if err != nil {
		return "", err
	}
	if c.NativeSignedURL {
		return d.SignedURL(ctx, a.Path)
	}
	return b.base + b.signer.Sign(downloadRoute(a.ID)).String(), nil
}

// TemporarySignedURL returns a signed URL valid for ttl, or for the default
// lifetime when ttl <= 0.
func (b *URLBuilder) TemporarySignedURL(ctx context.Context, a *Artifact, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = b.defaultTTL
	}
	expires := b.now().Add(ttl)
	c, d, err := b.resolve(a)
	if err != nil {
		return "", err
	}
	if c.NativeTemporaryURL {
		return d.TemporaryURL(ctx, a.Path, expires)
	}
	return b.base + b.signer.SignUntil(downloadRoute(a.ID), expires).String(), nil
}

func (b *URLBuilder) resolve(a *Artifact) (disk.Capability, disk.Disk, error) {
	d, err := b.disks.Disk(a.Disk)
	if err != nil {
		return disk.Capability{}, nil, fmt.Errorf("artifact %s: %w", a.ID, err)
	}
	c, err := b.disks.Capability(a.Disk)
	if err != nil {
		return disk.Capability{}, nil, fmt.Errorf("artifact %s: %w", a.ID, err)
	}
	return c, d, nil
}

// Verify checks a request URL for the signed download route.
func (b *URLBuilder) Verify(u *url.URL) error {
	return b.signer.Verify(u, b.now())
}

// View is the metadata document served for an artifact.
type View struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	FileName           string    `json:"file_name"`
	MimeType           string    `json:"mime_type"`
	Size               int64     `json:"size"`
	Disk               string    `json:"disk"`
	Collection         string    `json:"collection"`
	OwnerType          string    `json:"owner_type"`
	OwnerID            string    `json:"owner_id"`
	Hash               string    `json:"file_hash"`
	CreatedAt          time.Time `json:"created_at"`
	IsPublic           bool      `json:"is_public"`
	IsPrivate          bool      `json:"is_private"`
	RawURL             *string   `json:"raw_url"`
	StreamURL          string    `json:"stream_url"`
	SignedURL          string    `json:"signed_url"`
	TemporarySignedURL string    `json:"temporary_signed_url"`
}

// Describe builds the View for a, with the temporary URL at the default
// lifetime.
func (b *URLBuilder) Describe(ctx context.Context, a *Artifact) (*View, error) {
	c, err := b.disks.Capability(a.Disk)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", a.ID, err)
	}
	signed, err := b.SignedURL(ctx, a)
	if err != nil {
		return nil, err
	}
	temporary, err := b.TemporarySignedURL(ctx, a, 0)
	if err != nil {
		return nil, err
	}
	v := &View{
		ID:                 a.ID,
		Name:               a.Name,
		FileName:           a.FileName,
		MimeType:           a.MimeType,
		Size:               a.Size,
		Disk:               a.Disk,
		Collection:         a.Collection,
		OwnerType:          a.Owner.Type,
		OwnerID:            a.Owner.ID,
		Hash:               a.Hash,
		CreatedAt:          a.CreatedAt,
		IsPublic:           c.Public,
		IsPrivate:          c.Private(),
		StreamURL:          b.StreamURL(a),
		SignedURL:          signed,
		TemporarySignedURL: temporary,
	}
	if raw, ok := b.RawURL(a); ok {
		v.RawURL = &raw
	}
	return v, nil
}

func downloadRoute(id uuid.UUID) *url.URL {
	return &url.URL{Path: fmt.Sprintf(DownloadPath, id)}
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
