package delivery

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/otaguard/otaguard/firmware/artifact"
	"github.com/otaguard/otaguard/status"
)

const (
	healthPath      = "/healthz"
	manifestType    = "application/json"
	artifactType    = "application/octet-stream"
	headerKeyID     = "X-Artifact-Key-Id"
	headerFwVersion = "X-Firmware-Version"
)

// Config selects the artifact served and the path devices fetch it from
type Config struct {
	ArtifactPath string
	// URLPath defaults to "/" + the artifact's base name
	URLPath string
}

// snapshot is an immutable view of one artifact and its manifest. manifest and meta are
// nil for an artifact that has no manifest on disk.
type snapshot struct {
	data     []byte
	manifest []byte
	meta     *artifact.Manifest
	etag     string
	sha256   string
	modTime  time.Time
}

// Handler serves the current artifact snapshot. Reloads swap the snapshot pointer; a
// snapshot is never modified once published, so readers need no locks.
type Handler struct {
	cfg     Config
	current atomic.Pointer[snapshot]
	metrics *handlerMetrics
	mux     *http.ServeMux
}

// NewHandler loads the artifact at cfg.ArtifactPath together with its manifest, if any. A
// missing or inconsistent artifact fails here, before anything is served.
func NewHandler(cfg Config, meter metric.Meter) (*Handler, error) {
	if cfg.ArtifactPath == "" {
		return nil, fmt.Errorf("artifact path is required")
	}
	if cfg.URLPath == "" {
		cfg.URLPath = "/" + filepath.Base(cfg.ArtifactPath)
	}
	if err := validateURLPath(cfg.URLPath); err != nil {
		return nil, err
	}
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}

	hm, err := newHandlerMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("create delivery metrics: %w", err)
	}

	h := &Handler{cfg: cfg, metrics: hm}
	if err := h.Reload(); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+cfg.URLPath, h.serveArtifact)
	mux.HandleFunc("GET "+artifact.ManifestPath(cfg.URLPath), h.serveManifest)
	mux.HandleFunc("GET "+healthPath, h.serveHealth)
	h.mux = mux

	return h, nil
}

// URLPath returns the path the artifact is served on
func (h *Handler) URLPath() string {
	return h.cfg.URLPath
}

// ArtifactPath returns the file backing the handler
func (h *Handler) ArtifactPath() string {
	return h.cfg.ArtifactPath
}

// Reload reads the artifact from disk and publishes it as the new snapshot. On failure the
// previous snapshot stays in place.
func (h *Handler) Reload() error {
	snap, err := h.load()
	if err != nil {
		h.metrics.reloaded(false)
		return err
	}

	old := h.current.Swap(snap)
	h.metrics.reloaded(true)
	if old == nil || old.etag != snap.etag {
		log.WithFields(log.Fields{
			"key_id": snap.keyID(),
			"size":   len(snap.data),
		}).Infof("serving %s at %s", h.cfg.ArtifactPath, h.cfg.URLPath)
	}
	return nil
}

func (h *Handler) load() (*snapshot, error) {
	a, m, err := artifact.ReadFile(h.cfg.ArtifactPath)
	if errors.Is(err, artifact.ErrNoManifest) {
		return loadBare(h.cfg.ArtifactPath)
	}
	if err != nil {
		return nil, err
	}

	manifestJSON, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	return &snapshot{
		data:     artifact.Serialize(a),
		manifest: manifestJSON,
		meta:     m,
		etag:     `"` + m.BLAKE2s + `"`,
		sha256:   m.SHA256,
		modTime:  m.SignedAt,
	}, nil
}

// loadBare serves the artifact bytes as they are. Without a manifest the signature size is
// unknown here; devices split the bytes with their own key.
func loadBare(path string) (*snapshot, error) {
	data, err := artifact.ReadBytes(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, status.NewMalformedArtifactError("%s is empty", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat artifact %s: %w", path, err)
	}

	digest := artifact.NewArtifactHash()
	digest.Write(data)
	sum := sha256.Sum256(data)

	log.Warnf("no manifest next to %s, serving the raw artifact", path)
	return &snapshot{
		data:    data,
		etag:    `"` + hex.EncodeToString(digest.Sum(nil)) + `"`,
		sha256:  hex.EncodeToString(sum[:]),
		modTime: info.ModTime(),
	}, nil
}

func (s *snapshot) keyID() string {
	if s.meta == nil {
		return ""
	}
	return s.meta.KeyID.String()
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	h.metrics.served(r.Context(), endpointOf(r.URL.Path, h.cfg.URLPath), r.Method, rec.status, rec.written)
	log.Debugf("%s %s from %s: %d (%d bytes)", r.Method, r.URL.Path, r.RemoteAddr, rec.status, rec.written)
}

func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request) {
	snap := h.current.Load()
	w.Header().Set("Content-Type", artifactType)
	w.Header().Set("ETag", snap.etag)
	w.Header().Set("Cache-Control", "no-cache")
	if snap.meta != nil {
		w.Header().Set(headerKeyID, snap.meta.KeyID.String())
		if snap.meta.FirmwareVersion != "" {
			w.Header().Set(headerFwVersion, snap.meta.FirmwareVersion)
		}
	}
	http.ServeContent(w, r, filepath.Base(h.cfg.ArtifactPath), snap.modTime, bytes.NewReader(snap.data))
}

func (h *Handler) serveManifest(w http.ResponseWriter, r *http.Request) {
	snap := h.current.Load()
	if snap.manifest == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", manifestType)
	w.Header().Set("ETag", snap.etag)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "", snap.modTime, bytes.NewReader(snap.manifest))
}

func (h *Handler) serveHealth(w http.ResponseWriter, _ *http.Request) {
	snap := h.current.Load()
	w.Header().Set("Content-Type", manifestType)
	health := map[string]string{
		"status": "ok",
		"sha256": snap.sha256,
	}
	if id := snap.keyID(); id != "" {
		health["key_id"] = id
	}
	_ = json.NewEncoder(w).Encode(health)
}

func validateURLPath(p string) error {
	if !strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return fmt.Errorf("URL path %q must start with / and name a file", p)
	}
	if strings.ContainsAny(p, "{} \t\n") {
		return fmt.Errorf("URL path %q contains unsupported characters", p)
	}
	if p == healthPath || p == healthPath+".json" {
		return fmt.Errorf("URL path %q is reserved", p)
	}
	return nil
}

func endpointOf(path, urlPath string) string {
	switch path {
	case urlPath:
		return "artifact"
	case artifact.ManifestPath(urlPath):
		return "manifest"
	case healthPath:
		return "health"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}
