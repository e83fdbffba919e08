package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alimasry/go-block-editor/convert"
	"github.com/alimasry/go-block-editor/model"
	"github.com/alimasry/go-block-editor/store"
)

const maxImportSize = 4 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewHandler creates the HTTP handler with all routes.
func NewHandler(hub *Hub) http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		client := newClient(hub, conn)
		go client.WritePump()
		go client.ReadPump()
	})

	mux.HandleFunc("GET /api/docs", hub.listDocs)
	mux.HandleFunc("GET /api/docs/{id}", hub.exportDoc)
	mux.HandleFunc("POST /api/docs/{id}", hub.importDoc)

	return mux
}

type docSummary struct {
	ID        string `json:"id"`
	Version   int    `json:"version"`
	UpdatedAt string `json:"updatedAt"`
}

func (h *Hub) listDocs(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list documents")
		http.Error(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	out := make([]docSummary, len(docs))
	for i, d := range docs {
		out[i] = docSummary{ID: d.ID, Version: d.Version, UpdatedAt: d.UpdatedAt.UTC().Format(time.RFC3339)}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// exportDoc serves a stored document as JSON (default), HTML or Markdown.
func (h *Hub) exportDoc(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("doc", id).Error("load document")
		http.Error(w, "failed to load document", http.StatusInternalServerError)
		return
	}
	root, err := model.DecodeDocument(info.Content)
	if err != nil {
		h.log.WithError(err).WithField("doc", id).Error("decode document")
		http.Error(w, "failed to decode document", http.StatusInternalServerError)
		return
	}

	var body, contentType string
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		body, err = model.EncodeDocument(root)
		contentType = "application/json"
	case "html":
		body, err = convert.ToHTML(root, h.headings)
		contentType = "text/html; charset=utf-8"
	case "markdown", "md":
		body, err = convert.ToMarkdown(root, h.headings)
		contentType = "text/markdown; charset=utf-8"
	default:
		http.Error(w, "unknown format "+format, http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("doc", id).Error("export document")
		http.Error(w, "failed to export document", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	io.WriteString(w, body)
}

// importDoc creates a document from an HTML or Markdown body.
func (h *Hub) importDoc(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	schema, err := NewSchema(h.headings)
	if err != nil {
		h.log.WithError(err).Error("build schema")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var root *model.Element
	switch format := r.URL.Query().Get("format"); format {
	case "", "html":
		root, err = convert.FromHTML(string(data), schema, h.headings)
	case "markdown", "md":
		root, err = convert.FromMarkdown(string(data), schema, h.headings)
	default:
		http.Error(w, "unknown format "+format, http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	content, err := model.EncodeDocument(root)
	if err != nil {
		http.Error(w, "failed to encode document", http.StatusInternalServerError)
		return
	}
	err = h.store.Create(r.Context(), id, content)
	if errors.Is(err, store.ErrExists) {
		http.Error(w, "document already exists", http.StatusConflict)
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("doc", id).Error("create document")
		http.Error(w, "failed to create document", http.StatusInternalServerError)
		return
	}
	h.log.WithField("doc", id).Info("document imported")
	w.WriteHeader(http.StatusCreated)
}
