package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/artifacts/disk"
	"github.com/GoCodeAlone/artifacts/events"
	"github.com/GoCodeAlone/artifacts/lock"
	"github.com/GoCodeAlone/artifacts/metrics"
	"github.com/GoCodeAlone/artifacts/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/GoCodeAlone/artifacts/artifact")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Ingestion is a fully explicit ingest request. Disk defaults to the
// registry's default disk and Collection to DefaultCollection.
type Ingestion struct {
	Owner      Owner
	Collection string
	Disk       string
	Slot       Slot
	File       *File
}

// Service ingests, queries and deletes artifacts.
type Service struct {
	store     store.ArtifactStore
	disks     *disk.Registry
	owners    *Owners
	locker    lock.Locker
	lockTTL   time.Duration
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLocker sets the lock guarding single-slot replacement. The default is
// an in-process lock; use a shared backend when several instances write.
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(st store.ArtifactStore, disks *disk.Registry, owners *Owners, opts ...Option) *Service {
	s := &Service{
		store:     st,
		disks:     disks,
		owners:    owners,
		locker:    lock.NewInMemoryLock(),
		lockTTL:   time.Minute,
		publisher: events.NopPublisher{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Owners returns the owner registry.
func (s *Service) Owners() *Owners { return s.owners }

// Store ingests files into the owner's collection on the default disk,
// using the slot mode the owner type declared for it.
func (s *Service) Store(ctx context.Context, owner Owner, collection string, files ...*File) ([]*Artifact, error) {
	return s.StoreTo(ctx, "", owner, collection, files...)
}

// StoreTo is Store on an explicit disk.
func (s *Service) StoreTo(ctx context.Context, diskName string, owner Owner, collection string, files ...*File) ([]*Artifact, error) {
	collection = normalizeCollection(collection)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrInvalidInput)
	}
	if s.owners.slot(owner.Type, collection) == SlotSingle {
		if len(files) != 1 {
			return nil, fmt.Errorf("%w: collection %q holds a single file, got %d", ErrInvalidInput, collection, len(files))
		}
		a, err := s.Ingest(ctx, Ingestion{Owner: owner, Collection: collection, Disk: diskName, Slot: SlotSingle, File: files[0]})
		if err != nil {
			return nil, err
		}
		return []*Artifact{a}, nil
	}
	return s.storeBatch(ctx, diskName, owner, collection, files)
}

// StoreOne stores f in a single-slot collection, replacing any artifact the
// owner already has there.
func (s *Service) StoreOne(ctx context.Context, owner Owner, collection string, f *File) (*Artifact, error) {
	collection = normalizeCollection(collection)
	s.owners.require(owner.Type, collection, SlotSingle)
	return s.Ingest(ctx, Ingestion{Owner: owner, Collection: collection, Slot: SlotSingle, File: f})
}

// StoreMany stores files in a multi-slot collection, in order. It is not
// atomic: the first failing item aborts the batch with a *BatchError and the
// items before it stay committed.
func (s *Service) StoreMany(ctx context.Context, owner Owner, collection string, files []*File) ([]*Artifact, error) {
	collection = normalizeCollection(collection)
	s.owners.require(owner.Type, collection, SlotMulti)
	return s.storeBatch(ctx, "", owner, collection, files)
}

func (s *Service) storeBatch(ctx context.Context, diskName string, owner Owner, collection string, files []*File) ([]*Artifact, error) {
	stored := make([]*Artifact, 0, len(files))
	for i, f := range files {
		a, err := s.Ingest(ctx, Ingestion{Owner: owner, Collection: collection, Disk: diskName, Slot: SlotMulti, File: f})
		if err != nil {
			return stored, &BatchError{Index: i, Stored: stored, Err: err}
		}
		stored = append(stored, a)
	}
	return stored, nil
}

// Ingest writes the file to disk, replaces the prior artifact for
// single-slot requests and inserts the metadata row.
func (s *Service) Ingest(ctx context.Context, in Ingestion) (a *Artifact, err error) {
	ctx, span := tracer.Start(ctx, "artifact.Ingest", trace.WithAttributes(
		attribute.String("artifact.owner", in.Owner.String()),
		attribute.String("artifact.collection", normalizeCollection(in.Collection)),
		attribute.String("artifact.slot", in.Slot.String()),
	))
	defer func() { endSpan(span, err) }()
	return s.ingest(ctx, in)
}

func (s *Service) ingest(ctx context.Context, in Ingestion) (*Artifact, error) {
	if err := in.File.validate(); err != nil {
		return nil, err
	}
	if in.Owner.Type == "" || in.Owner.ID == "" {
		return nil, fmt.Errorf("%w: owner type and id are required", ErrInvalidInput)
	}
	collection := normalizeCollection(in.Collection)
	diskName := in.Disk
	if diskName == "" {
		diskName = s.disks.Default()
	}
	d, err := s.disks.Disk(diskName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	mimeType := in.File.mimeType()
	name := storageName(in.File, mimeType)
	key := collection + "/" + name

	hasher := sha256.New()
	counter := &countingWriter{}
	body := io.TeeReader(in.File.Reader, io.MultiWriter(hasher, counter))
	if err := d.Put(ctx, key, body, mimeType); err != nil {
		s.discard(d, diskName, key)
		s.metrics.RecordStored(diskName, collection, 0, err)
		return nil, fmt.Errorf("%w: %s on disk %s: %w", ErrStorageWrite, key, diskName, err)
	}

	a := &Artifact{
		ID:         uuid.New(),
		Name:       name,
		FileName:   in.File.baseName(),
		MimeType:   mimeType,
		Path:       key,
		Disk:       diskName,
		Hash:       hex.EncodeToString(hasher.Sum(nil)),
		Collection: collection,
		Size:       counter.n,
		Owner:      in.Owner,
		CreatedAt:  s.now().UTC(),
	}

	var replaced []*Artifact
	if in.Slot == SlotSingle {
		release, err := s.locker.Acquire(ctx, lockKey(in.Owner, collection), s.lockTTL)
		if err != nil {
			s.discard(d, diskName, key)
			return nil, fmt.Errorf("lock %s/%s: %w", in.Owner, collection, err)
		}
		defer release()

		replaced, err = s.removeExisting(ctx, in.Owner, collection)
		if err != nil {
			s.discard(d, diskName, key)
			s.metrics.RecordStored(diskName, collection, 0, err)
			return nil, err
		}
	}

	if err := s.store.Create(ctx, a); err != nil {
		s.discard(d, diskName, key)
		s.metrics.RecordStored(diskName, collection, 0, err)
		return nil, fmt.Errorf("insert artifact %s: %w", a.ID, err)
	}

	s.metrics.RecordStored(diskName, collection, a.Size, nil)
	s.metrics.RecordReplaced(collection, len(replaced))
	for _, old := range replaced {
		s.publish(ctx, events.TypeDeleted, old)
	}
	s.publish(ctx, events.TypeStored, a)
	s.logger.Info("artifact stored",
		"id", a.ID, "owner", a.Owner.String(), "collection", collection,
		"disk", diskName, "path", key, "size", a.Size, "replaced", len(replaced))
	return a, nil
}

// removeExisting deletes every artifact the owner holds in collection,
// object first, then row. The caller holds the owner/collection lock.
func (s *Service) removeExisting(ctx context.Context, owner Owner, collection string) ([]*Artifact, error) {
	existing, err := s.store.List(ctx, store.ArtifactFilter{
		OwnerType:  owner.Type,
		OwnerID:    owner.ID,
		Collection: collection,
	})
	if err != nil {
		return nil, fmt.Errorf("list existing artifacts: %w", err)
	}
	for i, old := range existing {
		if err := s.remove(ctx, old); err != nil {
			return existing[:i], err
		}
	}
	return existing, nil
}

func (s *Service) remove(ctx context.Context, a *Artifact) error {
	d, err := s.disks.Disk(a.Disk)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStorageDelete, a.Path, err)
	}
	if err := d.Delete(ctx, a.Path); err != nil {
		return fmt.Errorf("%w: %s on disk %s: %w", ErrStorageDelete, a.Path, a.Disk, err)
	}
	if err := s.store.Delete(ctx, a.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		// The object is gone; the row now points at nothing until removed.
		s.logger.Error("orphaned artifact row: object deleted but row delete failed",
			"id", a.ID, "disk", a.Disk, "path", a.Path, "error", err)
		return fmt.Errorf("%w: row %s: %w", ErrStorageDelete, a.ID, err)
	}
	s.metrics.RecordDeleted(a.Disk)
	return nil
}

// discard removes an object written by a failed ingestion. The caller's
// context may already be cancelled, so cleanup runs on its own deadline.
func (s *Service) discard(d disk.Disk, diskName, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to discard object", "disk", diskName, "path", key, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, a *Artifact) {
	e := events.Event{Type: eventType, Artifact: a, Time: s.now().UTC()}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish artifact event", "type", eventType, "id", a.ID, "error", err)
	}
}

// Get returns the artifact with the given ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	a, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", id, err)
	}
	return a, nil
}

// One returns the artifact in a single-slot collection.
func (s *Service) One(ctx context.Context, owner Owner, collection string) (*Artifact, error) {
	collection = normalizeCollection(collection)
	s.owners.require(owner.Type, collection, SlotSingle)
	list, err := s.List(ctx, owner, collection)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s has no %s", ErrNotFound, owner, collection)
	}
	return list[len(list)-1], nil
}

// Many returns the artifacts in a multi-slot collection, oldest first.
func (s *Service) Many(ctx context.Context, owner Owner, collection string) ([]*Artifact, error) {
	collection = normalizeCollection(collection)
	s.owners.require(owner.Type, collection, SlotMulti)
	return s.List(ctx, owner, collection)
}

// List returns the owner's artifacts in collection without checking the
// owner registry.
func (s *Service) List(ctx context.Context, owner Owner, collection string) ([]*Artifact, error) {
	list, err := s.store.List(ctx, store.ArtifactFilter{
		OwnerType:  owner.Type,
		OwnerID:    owner.ID,
		Collection: normalizeCollection(collection),
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return list, nil
}

// Open reads the stored object. The caller closes the reader.
func (s *Service) Open(ctx context.Context, a *Artifact) (io.ReadCloser, error) {
	d, err := s.disks.Disk(a.Disk)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", a.ID, err)
	}
	rc, err := d.Get(ctx, a.Path)
	if errors.Is(err, disk.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: object %s missing on disk %s", ErrNotFound, a.Path, a.Disk)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", a.ID, err)
	}
	return rc, nil
}

// Delete removes the artifact's object and then its row.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := tracer.Start(ctx, "artifact.Delete", trace.WithAttributes(attribute.String("artifact.id", id.String())))
	defer func() { endSpan(span, err) }()

	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	release, err := s.locker.Acquire(ctx, lockKey(a.Owner, a.Collection), s.lockTTL)
	if err != nil {
		return fmt.Errorf("lock %s/%s: %w", a.Owner, a.Collection, err)
	}
	defer release()

	if err := s.remove(ctx, a); err != nil {
		return err
	}
	s.publish(ctx, events.TypeDeleted, a)
	s.logger.Info("artifact deleted", "id", a.ID, "disk", a.Disk, "path", a.Path)
	return nil
}

func lockKey(owner Owner, collection string) string {
	return "artifacts:" + owner.Type + ":" + owner.ID + ":" + collection
}

func normalizeCollection(c string) string {
	if c == "" {
		return DefaultCollection
	}
	return c
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
