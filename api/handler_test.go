package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/artifacts/artifact"
	"github.com/GoCodeAlone/artifacts/disk"
	"github.com/GoCodeAlone/artifacts/metrics"
	"github.com/GoCodeAlone/artifacts/signing"
	"github.com/GoCodeAlone/artifacts/store"
	"github.com/golang-jwt/jwt/v5"
)

type testServer struct {
	handler http.Handler
	svc     *artifact.Service
	urls    *artifact.URLBuilder
	local   *disk.MemoryDisk
	public  *disk.MemoryDisk
	mw      *Middleware
}

func newTestServer(t *testing.T, jwtSecret string, rateLimit int) *testServer {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	settings := disk.Settings{
		Default: "local",
		Disks: map[string]disk.Config{
			"local":  {Driver: disk.DriverMemory},
			"public": {Driver: disk.DriverMemory, Visibility: disk.VisibilityPublic},
		},
	}
	ts := &testServer{local: disk.NewMemoryDisk(), public: disk.NewMemoryDisk()}
	disks := disk.NewRegistry(settings)
	disks.Register("local", ts.local)
	disks.Register("public", ts.public)

	owners := artifact.NewOwners()
	owners.Register("user", artifact.One("avatar"), artifact.Many("documents"))

	ts.svc = artifact.NewService(store.NewMemoryArtifactStore(), disks, owners, artifact.WithLogger(logger))
	signer, err := signing.NewSigner([]byte("test-key"))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	ts.urls, err = artifact.NewURLBuilder("http://app.test", signer, disks)
	if err != nil {
		t.Fatalf("NewURLBuilder: %v", err)
	}

	ts.mw = NewMiddleware([]byte(jwtSecret), logger)
	t.Cleanup(ts.mw.Stop)
	h := NewHandler(ts.svc, ts.urls, disks, logger, 1<<20)
	ts.handler = NewRouter(h, ts.mw, metrics.New("test"), Config{StreamRateLimit: rateLimit})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func (ts *testServer) store(t *testing.T, diskName, name, content string) *artifact.Artifact {
	t.Helper()
	a, err := ts.svc.Ingest(context.Background(), artifact.Ingestion{
		Owner:      artifact.Owner{Type: "user", ID: "42"},
		Collection: "documents",
		Disk:       diskName,
		File:       artifact.NewFile(name, contentTypeFor(name), strings.NewReader(content)),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return a
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "text/plain"
}

func multipartBody(t *testing.T, files map[string]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = part.Write([]byte(content))
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	var env struct {
		Data  json.RawMessage `json:"data"`
		Total int             `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if err := json.Unmarshal(env.Data, into); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestUploadAndList(t *testing.T) {
	ts := newTestServer(t, "", 0)

	body, ct := multipartBody(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/owners/user/42/artifacts/documents", body)
	req.Header.Set("Content-Type", ct)
	w := ts.do(req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", w.Code, w.Body.String())
	}
	var uploaded []artifact.View
	decodeData(t, w, &uploaded)
	if len(uploaded) != 2 {
		t.Fatalf("uploaded %d, want 2", len(uploaded))
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/owners/user/42/artifacts/documents", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var listed []artifact.View
	decodeData(t, w, &listed)
	if len(listed) != 2 {
		t.Errorf("listed %d, want 2", len(listed))
	}
}

func TestUpload_SingleSlotReplaces(t *testing.T) {
	ts := newTestServer(t, "", 0)
	for _, content := range []string{"v1", "v2"} {
		body, ct := multipartBody(t, map[string]string{"me.png": content}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/owners/user/42/artifacts/avatar", body)
		req.Header.Set("Content-Type", ct)
		if w := ts.do(req); w.Code != http.StatusCreated {
			t.Fatalf("upload status = %d, body %s", w.Code, w.Body.String())
		}
	}
	if keys := ts.local.Keys(); len(keys) != 1 {
		t.Errorf("expected one object after replace, got %v", keys)
	}
}

func TestUpload_Errors(t *testing.T) {
	ts := newTestServer(t, "", 0)

	tests := []struct {
		name   string
		path   string
		files  map[string]string
		fields map[string]string
		want   int
	}{
		{"undeclared collection", "/api/v1/owners/user/42/artifacts/banner", map[string]string{"a.txt": "a"}, nil, http.StatusNotFound},
		{"unknown owner type", "/api/v1/owners/robot/1/artifacts/documents", map[string]string{"a.txt": "a"}, nil, http.StatusNotFound},
		{"no file part", "/api/v1/owners/user/42/artifacts/documents", nil, map[string]string{"x": "y"}, http.StatusBadRequest},
		{"two files in a single slot", "/api/v1/owners/user/42/artifacts/avatar", map[string]string{"a.png": "a", "b.png": "b"}, nil, http.StatusBadRequest},
		{"unknown disk", "/api/v1/owners/user/42/artifacts/documents", map[string]string{"a.txt": "a"}, map[string]string{"disk": "nope"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.files, tt.fields)
			req := httptest.NewRequest(http.MethodPost, tt.path, body)
			req.Header.Set("Content-Type", ct)
			if w := ts.do(req); w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/owners/user/42/artifacts/documents", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	if w := ts.do(req); w.Code != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d, want 400", w.Code)
	}

	big, ct := multipartBody(t, map[string]string{"big.bin": strings.Repeat("x", 2<<20)}, nil)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/owners/user/42/artifacts/documents", big)
	req.Header.Set("Content-Type", ct)
	if w := ts.do(req); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload status = %d, want 413", w.Code)
	}
}

func TestShow(t *testing.T) {
	ts := newTestServer(t, "", 0)
	a := ts.store(t, "local", "report.txt", "hello")

	w := ts.do(httptest.NewRequest(http.MethodGet, "/artifacts/"+a.ID.String(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var doc map[string]any
	decodeData(t, w, &doc)
	if doc["raw_url"] != nil {
		t.Errorf("private artifact raw_url = %v", doc["raw_url"])
	}
	if doc["is_private"] != true || doc["file_name"] != "report.txt" {
		t.Errorf("unexpected document %v", doc)
	}
	if doc["stream_url"] != "http://app.test/artifacts/"+a.ID.String()+"/stream" {
		t.Errorf("stream_url = %v", doc["stream_url"])
	}
}

func TestStream(t *testing.T) {
	ts := newTestServer(t, "", 0)
	a := ts.store(t, "local", "report.txt", "hello")

	w := ts.do(httptest.NewRequest(http.MethodGet, "/artifacts/"+a.ID.String()+"/stream", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "hello" {
		t.Errorf("body = %q", w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `inline; filename=report.txt` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q", ct)
	}

	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+a.ID.String()+"/stream", nil)
	req.Header.Set("If-None-Match", w.Header().Get("ETag"))
	if w := ts.do(req); w.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", w.Code)
	}
}

func TestStream_NotFound(t *testing.T) {
	ts := newTestServer(t, "", 0)
	a := ts.store(t, "local", "report.txt", "hello")
	if err := ts.local.Delete(context.Background(), a.Path); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for _, path := range []string{
		"/artifacts/not-a-uuid/stream",
		"/artifacts/00000000-0000-0000-0000-000000000001/stream",
		"/artifacts/" + a.ID.String() + "/stream",
	} {
		if w := ts.do(httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, w.Code)
		}
	}

	// A cached ETag must not hide a missing object.
	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+a.ID.String()+"/stream", nil)
	req.Header.Set("If-None-Match", `"`+a.Hash+`"`)
	if w := ts.do(req); w.Code != http.StatusNotFound {
		t.Errorf("conditional stream of missing object: status = %d, want 404", w.Code)
	}
}

func TestDownload(t *testing.T) {
	ts := newTestServer(t, "", 0)
	a := ts.store(t, "local", "report.txt", "hello")
	ctx := context.Background()

	signed, err := ts.urls.SignedURL(ctx, a)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	temporary, err := ts.urls.TemporarySignedURL(ctx, a, time.Minute)
	if err != nil {
		t.Fatalf("TemporarySignedURL: %v", err)
	}

	for _, raw := range []string{signed, temporary} {
		w := ts.do(httptest.NewRequest(http.MethodGet, raw, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("download %s: status = %d", raw, w.Code)
		}
		if !strings.HasPrefix(w.Header().Get("Content-Disposition"), "attachment") {
			t.Errorf("Content-Disposition = %q", w.Header().Get("Content-Disposition"))
		}
		if w.Body.String() != "hello" {
			t.Errorf("body = %q", w.Body.String())
		}
	}
}

func TestDownload_Forbidden(t *testing.T) {
	ts := newTestServer(t, "", 0)
	a := ts.store(t, "local", "report.txt", "hello")
	other := ts.store(t, "local", "other.txt", "other")

	signed, _ := ts.urls.SignedURL(context.Background(), a)
	u, _ := url.Parse(signed)

	expiredSigner, _ := signing.NewSigner([]byte("test-key"))
	expired := expiredSigner.SignUntil(&url.URL{Path: "/artifacts/" + a.ID.String() + "/download"}, time.Now().Add(-time.Minute))

	tests := map[string]string{
		"unsigned":           "/artifacts/" + a.ID.String() + "/download",
		"signature for other": "/artifacts/" + other.ID.String() + "/download?" + u.RawQuery,
		"tampered":           u.Path + "?" + u.RawQuery + "&x=1",
		"expired":            expired.String(),
		"unknown id unsigned": "/artifacts/00000000-0000-0000-0000-000000000001/download",
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			w := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
			if w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", w.Code)
			}
		})
	}
}

func TestPublicFile(t *testing.T) {
	ts := newTestServer(t, "", 0)
	pub := ts.store(t, "public", "logo.png", "png-bytes")
	priv := ts.store(t, "local", "secret.txt", "secret")

	raw, ok := ts.urls.RawURL(pub)
	if !ok {
		t.Fatal("expected raw URL for public disk")
	}
	w := ts.do(httptest.NewRequest(http.MethodGet, raw, nil))
	if w.Code != http.StatusOK || w.Body.String() != "png-bytes" {
		t.Fatalf("public file: status %d body %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}

	for _, path := range []string{
		"/storage/local/" + priv.Path,
		"/storage/public/documents/missing.png",
		"/storage/unknown/" + pub.Path,
	} {
		if w := ts.do(httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, w.Code)
		}
	}
}

func TestDelete(t *testing.T) {
	ts := newTestServer(t, "", 0)
	a := ts.store(t, "local", "report.txt", "hello")

	if w := ts.do(httptest.NewRequest(http.MethodDelete, "/artifacts/"+a.ID.String(), nil)); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := ts.do(httptest.NewRequest(http.MethodGet, "/artifacts/"+a.ID.String(), nil)); w.Code != http.StatusNotFound {
		t.Errorf("show after delete = %d, want 404", w.Code)
	}
	if len(ts.local.Keys()) != 0 {
		t.Error("object should be removed")
	}
}

func TestRequireAuth(t *testing.T) {
	const secret = "jwt-secret"
	ts := newTestServer(t, secret, 0)

	upload := func(token string) int {
		body, ct := multipartBody(t, map[string]string{"a.txt": "a"}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/owners/user/42/artifacts/documents", body)
		req.Header.Set("Content-Type", ct)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return ts.do(req).Code
	}

	sign := func(key string, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return s
	}
	valid := sign(secret, jwt.MapClaims{"sub": "user-42", "exp": time.Now().Add(time.Hour).Unix()})

	if code := upload(""); code != http.StatusUnauthorized {
		t.Errorf("no token: %d, want 401", code)
	}
	if code := upload(sign("wrong", jwt.MapClaims{"sub": "x"})); code != http.StatusUnauthorized {
		t.Errorf("wrong key: %d, want 401", code)
	}
	if code := upload(sign(secret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})); code != http.StatusUnauthorized {
		t.Errorf("no subject: %d, want 401", code)
	}
	if code := upload(sign(secret, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Hour).Unix()})); code != http.StatusUnauthorized {
		t.Errorf("expired: %d, want 401", code)
	}
	if code := upload(valid); code != http.StatusCreated {
		t.Errorf("valid token: %d, want 201", code)
	}

	a := ts.store(t, "local", "r.txt", "top secret")
	for _, path := range []string{
		"/artifacts/" + a.ID.String() + "/stream",
		"/artifacts/" + a.ID.String(),
	} {
		if w := ts.do(httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: %d, want 401", path, w.Code)
		}
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+valid)
		if w := ts.do(req); w.Code != http.StatusOK {
			t.Errorf("%s with token: %d, want 200", path, w.Code)
		}
	}

	// The signature is the credential for downloads.
	signed, err := ts.urls.SignedURL(context.Background(), a)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if w := ts.do(httptest.NewRequest(http.MethodGet, signed, nil)); w.Code != http.StatusOK {
		t.Errorf("signed download without token: %d, want 200", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, "", 1)
	a := ts.store(t, "local", "r.txt", "r")
	path := "/artifacts/" + a.ID.String() + "/stream"

	if w := ts.do(httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Forwarding headers from an untrusted peer do not change the key.
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	if w := ts.do(req); w.Code != http.StatusTooManyRequests {
		t.Errorf("spoofed X-Real-IP: %d, want 429", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "198.51.100.7:4000"
	if w := ts.do(req); w.Code != http.StatusOK {
		t.Errorf("other client: %d, want 200", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	mw := NewMiddleware(nil, slog.New(slog.DiscardHandler))
	if err := mw.TrustProxies("10.0.0.0/8", "192.0.2.1"); err != nil {
		t.Fatalf("TrustProxies: %v", err)
	}

	tests := []struct {
		name    string
		remote  string
		realIP  string
		forward string
		want    string
	}{
		{"direct", "198.51.100.7:4000", "", "", "198.51.100.7"},
		{"untrusted peer headers ignored", "198.51.100.7:4000", "203.0.113.9", "203.0.113.10", "198.51.100.7"},
		{"trusted peer real ip", "192.0.2.1:1234", "203.0.113.9", "", "203.0.113.9"},
		{"trusted peer forwarded", "10.1.2.3:80", "", "203.0.113.9, 10.0.0.5", "203.0.113.9"},
		{"forwarded spoof left of client", "10.1.2.3:80", "", "1.1.1.1, 203.0.113.9", "203.0.113.9"},
		{"trusted peer no headers", "10.1.2.3:80", "", "", "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forward != "" {
				req.Header.Set("X-Forwarded-For", tt.forward)
			}
			if got := mw.clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}

	if err := mw.TrustProxies("proxy.local"); err == nil {
		t.Error("expected error for a hostname")
	}
}

func TestOperationalRoutes(t *testing.T) {
	ts := newTestServer(t, "", 0)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on responses")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	if w := ts.do(req); w.Header().Get("X-Request-ID") != "6ba7b810-9dad-11d1-80b4-00c04fd430c8" {
		t.Errorf("request id not echoed: %q", w.Header().Get("X-Request-ID"))
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	if w.Code != http.StatusOK || !strings.Contains(string(body), "test_http_requests_total") {
		t.Errorf("metrics: %d", w.Code)
	}
}

func TestRecover(t *testing.T) {
	mw := NewMiddleware(nil, slog.New(slog.DiscardHandler))
	h := mw.Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(&artifact.ConfigurationError{OwnerType: "robot", Reason: "owner type is not registered"})
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
