// Package server exposes the converter over HTTP: photos are uploaded, turned
// into a panel frame and published where the panel firmware fetches it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"github.com/flavioheleno/epaper4"
	"github.com/flavioheleno/epaper4/history"
	"github.com/flavioheleno/epaper4/inbox"
)

// DefaultMaxUploadBytes bounds the request body of an upload.
const DefaultMaxUploadBytes = 32 << 20

// uploadBase is the stem of the stored upload; the extension follows the
// uploaded file.
const uploadBase = "latest"

// Config is the server configuration.
type Config struct {
	InboxDir       string // Where uploads are stored
	OutDir         string // Where the frame is published and served from
	BinName        string // Published artifact name (default: epaper4.DefaultBinName)
	MaxUploadBytes int64  // Upload limit (default: DefaultMaxUploadBytes)

	Logger *slog.Logger // Optional, slog.Default() if nil
}

// Server converts uploads and publishes the result.
type Server struct {
	cfg  Config
	conv *epaper4.Converter
	pub  *epaper4.Publisher
	hist *history.Store
	log  *slog.Logger

	// Conversions are serialized so the published frame always matches the
	// latest stored upload.
	mu sync.Mutex
}

// New creates a Server. hist can be nil to disable the conversion log.
func New(cfg Config, conv *epaper4.Converter, hist *history.Store) (*Server, error) {
	if conv == nil {
		return nil, errors.New("server: nil converter")
	}
	if cfg.InboxDir == "" || cfg.OutDir == "" {
		return nil, errors.New("server: inbox and output directories are required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.InboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("server: create inbox: %w", err)
	}
	pub, err := epaper4.NewPublisher(cfg.OutDir, cfg.BinName)
	if err != nil {
		return nil, err
	}
	cfg.BinName = pub.Name()

	return &Server{
		cfg:  cfg,
		conv: conv,
		pub:  pub,
		hist: hist,
		log:  cfg.Logger,
	}, nil
}

// Publisher returns the publisher for the output artifact.
func (s *Server) Publisher() *epaper4.Publisher {
	return s.pub
}

// IsUpload reports whether name is a file the server itself stores in the
// inbox. Inbox watchers use it to skip uploads already converted.
func IsUpload(name string) bool {
	return strings.TrimSuffix(name, filepath.Ext(name)) == uploadBase
}

// Handler returns the HTTP handler with all routes. Responses are compressed
// when the client accepts it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /meta", s.handleMeta)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /history/{id}/bin", s.handleHistoryFrame)
	mux.Handle("GET /", staticFiles(s.cfg.OutDir))
	return gzhttp.GzipHandler(mux)
}

// ProcessFile converts the image at path, publishes the frame and records
// the conversion.
func (s *Server) ProcessFile(ctx context.Context, path string) (*epaper4.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processLocked(ctx, path)
}

// processLocked is ProcessFile for callers already holding s.mu.
func (s *Server) processLocked(ctx context.Context, path string) (*epaper4.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("server: open source: %w", err)
	}
	defer f.Close()

	res, err := s.conv.Convert(ctx, f)
	if err != nil {
		return nil, err
	}
	if err := s.pub.Publish(res.Frame); err != nil {
		return nil, err
	}

	if s.hist != nil {
		_, err := s.hist.Record(ctx, history.Entry{
			SourceName:   filepath.Base(path),
			SourceFormat: res.Format,
			Variant:      res.Variant,
			SourceWidth:  res.SourceSize.X,
			SourceHeight: res.SourceSize.Y,
			Bytes:        len(res.Frame),
			SHA256:       history.Checksum(res.Frame),
			DurationMS:   res.Duration.Milliseconds(),
			Frame:        res.Frame,
		})
		if err != nil {
			// The frame is already live; a missing log row is not fatal.
			s.log.Warn("failed to record conversion", "source", path, "err", err)
		}
	}

	s.log.Info("frame published",
		"source", filepath.Base(path),
		"format", res.Format,
		"variant", res.Variant,
		"bin", s.pub.Path(),
		"duration", res.Duration)
	return res, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "running"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	log := s.log.With("upload", id)
	w.Header().Set("X-Upload-Id", id)

	if r.ContentLength > s.cfg.MaxUploadBytes {
		writeDetail(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeDetail(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		log.Info("upload rejected", "filename", header.Filename, "content_type", ct)
		writeDetail(w, http.StatusBadRequest, "image file only")
		return
	}

	// The stored upload must survive until it is converted; the next upload
	// replaces it.
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.storeUpload(file, header.Filename)
	if err != nil {
		log.Error("failed to store upload", "err", err)
		writeDetail(w, http.StatusInternalServerError, "convert failed: "+err.Error())
		return
	}
	log.Info("upload stored", "filename", header.Filename, "path", path, "size", header.Size)

	if _, err := s.processLocked(r.Context(), path); err != nil {
		if errors.Is(err, epaper4.ErrDecode) {
			log.Info("upload is not a decodable image", "err", err)
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error("conversion failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "convert failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "bin": s.cfg.BinName})
}

// storeUpload saves the upload as the only file in the inbox. The caller
// holds s.mu.
func (s *Server) storeUpload(src io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !inbox.Supported(ext) {
		ext = ".jpg"
	}
	dest := filepath.Join(s.cfg.InboxDir, uploadBase+ext)

	tmp, err := os.CreateTemp(s.cfg.InboxDir, ".upload.*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	entries, err := os.ReadDir(s.cfg.InboxDir)
	if err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	for _, e := range entries {
		// Hidden names are in-flight uploads.
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.InboxDir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to clear inbox file", "name", e.Name(), "err", err)
		}
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dest, nil
}

func (s *Server) handleMeta(w http.ResponseWriter, _ *http.Request) {
	info, err := s.pub.Stat()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"exists":  false,
			"message": s.cfg.BinName + " not generated yet",
		})
		return
	}
	mod := info.ModTime()
	writeJSON(w, http.StatusOK, map[string]any{
		"exists":                true,
		"filename":              s.cfg.BinName,
		"size_bytes":            info.Size(),
		"size_readable":         humanize.Bytes(uint64(info.Size())),
		"last_updated_unix":     mod.Unix(),
		"last_updated_readable": mod.Format(time.DateTime),
		"last_updated_relative": humanize.Time(mod),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := s.hist.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("failed to list history", "err", err)
		writeDetail(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistoryFrame(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid id")
		return
	}
	if s.hist == nil {
		writeDetail(w, http.StatusNotFound, "not found")
		return
	}
	frame, err := s.hist.Frame(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.log.Error("failed to load frame", "id", id, "err", err)
		writeDetail(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(frame)
}

// staticFiles serves the output directory without listings. Dot-files are
// in-flight temporaries of the publisher and stay hidden.
func staticFiles(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/") || strings.Contains(name, "/.") {
			http.NotFound(w, r)
			return
		}
		if info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name))); err == nil && info.IsDir() {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
