package server

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

const (
	cacheCurrent   = "public, max-age=3600"
	cacheImmutable = "public, max-age=31536000, immutable"
)

// handleDictionary serves the current dictionary.
func (s *Server) handleDictionary(w http.ResponseWriter, r *http.Request) {
	serveDictionary(w, r, s.store.Current(), cacheCurrent)
}

// handleDictionaryVersion serves a specific current, staged or retained version.
func (s *Server) handleDictionaryVersion(w http.ResponseWriter, r *http.Request) {
	v, err := strconv.ParseUint(chi.URLParam(r, "version"), 10, 32)
	if err != nil {
		http.Error(w, "invalid dictionary version", http.StatusBadRequest)
		return
	}
	d, ok := s.store.Lookup(uint32(v))
	if !ok {
		http.Error(w, "unknown dictionary version", http.StatusNotFound)
		return
	}
	serveDictionary(w, r, d, cacheImmutable)
}

func serveDictionary(w http.ResponseWriter, r *http.Request, d *dictionary.Dictionary, cacheControl string) {
	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Cache-Control", cacheControl)
	h.Set("ETag", `"`+d.Digest()+`"`)
	h.Set(protocol.HeaderDictVersion, strconv.FormatUint(uint64(d.Version()), 10))
	h.Set(protocol.HeaderDictDigest, d.Digest())
	http.ServeContent(w, r, "", d.CreatedAt(), bytes.NewReader(d.Bytes()))
}

type swapResponse struct {
	Version uint32 `json:"version"`
	Digest  string `json:"digest"`
	Size    int    `json:"size"`
}

// handleAdminSwap installs the request body as the next dictionary version.
func (s *Server) handleAdminSwap(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r); err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="ghostwatch"`)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, dictionary.MaxSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "dictionary too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	d, err := s.coord.SwapBytes(r.Context(), data)
	if err != nil {
		var stale *dictionary.StaleVersionError
		switch {
		case errors.Is(err, dictionary.ErrEmpty):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.As(err, &stale):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			s.logger.Error("dictionary swap failed", "error", err)
			http.Error(w, "swap failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, swapResponse{Version: d.Version(), Digest: d.Digest(), Size: d.Len()})
}

func (s *Server) authorize(r *http.Request) error {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AdminToken)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

type healthResponse struct {
	Status      string   `json:"status"`
	Version     uint32   `json:"dictionary_version"`
	Connections int      `json:"connections"`
	Channels    []string `json:"channels"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     s.store.Version(),
		Connections: s.hub.Conns(),
		Channels:    s.hub.Channels(),
	})
}

// handleWebSocket upgrades the request, joins the requested channel and
// announces the current dictionary version.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		channel = s.config.DefaultChannel
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(s.config.MaxMessageSize)

	c := newConn(ws, s.hub, s.codec, s.config)
	c.logger = c.logger.With("channel", channel)
	if _, err := s.hub.Join(c, channel); err != nil {
		s.logger.Warn("join rejected", "channel", channel, "error", err)
		ws.Close()
		return
	}

	if err := c.Announce(r.Context(), s.store.Version()); err != nil {
		c.logger.Debug("hello failed", "error", err)
		c.Close()
		return
	}
	c.logger.Debug("connection opened", "remote", r.RemoteAddr)

	go c.pingLoop()
	go c.readLoop()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
