package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"

	"github.com/GoCodeAlone/artifacts/artifact"
	"github.com/GoCodeAlone/artifacts/disk"
	"github.com/google/uuid"
)

// DefaultMaxUploadBytes bounds a multipart upload request body.
const DefaultMaxUploadBytes = 64 << 20

// Handler serves artifact retrieval and ingestion endpoints.
type Handler struct {
	svc            *artifact.Service
	urls           *artifact.URLBuilder
	disks          *disk.Registry
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewHandler creates a Handler. maxUploadBytes <= 0 uses
// DefaultMaxUploadBytes.
func NewHandler(svc *artifact.Service, urls *artifact.URLBuilder, disks *disk.Registry, logger *slog.Logger, maxUploadBytes int64) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{svc: svc, urls: urls, disks: disks, logger: logger, maxUploadBytes: maxUploadBytes}
}

// Stream handles GET /artifacts/{id}/stream, serving the file inline.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, "inline")
}

// Download handles GET /artifacts/{id}/download. The URL must carry a valid
// signature; an invalid or expired one is a 403, never a 404.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	if err := h.urls.Verify(r.URL); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.serveArtifact(w, r, "attachment")
}

func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, disposition string) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	// Open before the conditional check so a missing object is a 404.
	rc, err := h.svc.Open(r.Context(), a)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer rc.Close()

	etag := `"` + a.Hash + `"`
	if a.Hash != "" && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": a.FileName}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if a.Hash != "" {
		w.Header().Set("ETag", etag)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("artifact stream interrupted", "id", a.ID, "error", err)
	}
}

// Show handles GET /artifacts/{id}, returning the metadata document.
func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	v, err := h.urls.Describe(r.Context(), a)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, v)
}

// Delete handles DELETE /artifacts/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublicFile handles GET /storage/{disk}/{path...}. Only objects on public
// disks are served; anything else is a 404.
func (h *Handler) PublicFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("disk")
	key := path.Clean("/" + r.PathValue("path"))[1:]
	c, err := h.disks.Capability(name)
	if err != nil || !c.Public || key == "" {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	d, err := h.disks.Disk(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	rc, err := d.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, disk.ErrObjectNotFound) {
			WriteError(w, http.StatusNotFound, "not found")
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(path.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("public file stream interrupted", "disk", name, "path", key, "error", err)
	}
}

// Upload handles POST /api/v1/owners/{type}/{id}/artifacts/{collection}.
// Every multipart "file" part is ingested; an optional "disk" form field
// selects the target disk.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	owner, collection, ok := h.ownerCollection(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		WriteError(w, http.StatusBadRequest, `missing "file" part`)
		return
	}
	files, closeAll, err := openParts(headers)
	defer closeAll()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := h.svc.StoreTo(r.Context(), r.FormValue("disk"), owner, collection, files...)
	if err != nil {
		var batch *artifact.BatchError
		if errors.As(err, &batch) && len(batch.Stored) > 0 {
			h.logger.Warn("partial batch upload", "owner", owner.String(), "collection", collection,
				"stored", len(batch.Stored), "failed_index", batch.Index)
		}
		writeServiceError(w, r, h.logger, err)
		return
	}

	views, err := h.describeAll(r, stored)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	WriteList(w, http.StatusCreated, views, len(views))
}

// List handles GET /api/v1/owners/{type}/{id}/artifacts/{collection}.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, collection, ok := h.ownerCollection(w, r)
	if !ok {
		return
	}
	list, err := h.svc.List(r.Context(), owner, collection)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	views, err := h.describeAll(r, list)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	WriteList(w, http.StatusOK, views, len(views))
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "disks": h.disks.Names()})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*artifact.Artifact, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "artifact not found")
		return nil, false
	}
	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return nil, false
	}
	return a, true
}

// ownerCollection reads the owner and collection from the path and checks
// that the owner type declares the collection.
func (h *Handler) ownerCollection(w http.ResponseWriter, r *http.Request) (artifact.Owner, string, bool) {
	owner := artifact.Owner{Type: r.PathValue("type"), ID: r.PathValue("id")}
	collection := r.PathValue("collection")
	if _, ok := h.svc.Owners().Lookup(owner.Type, collection); !ok {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("owner type %q has no collection %q", owner.Type, collection))
		return owner, "", false
	}
	return owner, collection, true
}

func (h *Handler) describeAll(r *http.Request, list []*artifact.Artifact) ([]*artifact.View, error) {
	views := make([]*artifact.View, 0, len(list))
	for _, a := range list {
		v, err := h.urls.Describe(r.Context(), a)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// openParts opens every uploaded part. The returned func closes whatever was
// opened, even on error.
func openParts(headers []*multipart.FileHeader) ([]*artifact.File, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	files := make([]*artifact.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("open upload %q: %w", fh.Filename, err)
		}
		opened = append(opened, f)
		files = append(files, artifact.NewFile(fh.Filename, fh.Header.Get("Content-Type"), f))
	}
	return files, closeAll, nil
}
