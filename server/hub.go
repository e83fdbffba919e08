package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/alimasry/go-block-editor/command"
	"github.com/alimasry/go-block-editor/model"
	"github.com/alimasry/go-block-editor/ot"
	"github.com/alimasry/go-block-editor/store"
)

type joinRequest struct {
	client *Client
	docID  string
}

// Hub manages document sessions and routes clients to the right session.
type Hub struct {
	store    store.DocumentStore
	engine   ot.Engine
	headings []command.HeadingOption
	log      *logrus.Entry
	sessions map[string]*Session
	mu       sync.RWMutex

	joinDoc chan joinRequest
}

// NewHub creates a hub. Nil headings fall back to the default heading
// options.
func NewHub(st store.DocumentStore, engine ot.Engine, headings []command.HeadingOption, log *logrus.Entry) *Hub {
	if headings == nil {
		headings = command.DefaultHeadingOptions()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		store:    st,
		engine:   engine,
		headings: headings,
		log:      log.WithField("component", "hub"),
		sessions: make(map[string]*Session),
		joinDoc:  make(chan joinRequest, 64),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for req := range h.joinDoc {
		h.handleJoinDoc(req)
	}
}

// EmptyDocument is the content of a newly created document: a single
// empty paragraph.
func EmptyDocument() string {
	content, _ := model.EncodeDocument(model.NewElement(model.RootName, nil,
		model.NewElement(command.DefaultBlock, nil)))
	return content
}

func (h *Hub) handleJoinDoc(req joinRequest) {
	log := h.log.WithField("doc", req.docID)

	h.mu.Lock()
	s, ok := h.sessions[req.docID]
	if !ok {
		var err error
		s, err = h.openSession(context.Background(), req.docID)
		if err != nil {
			log.WithError(err).Error("open session")
			h.mu.Unlock()
			req.client.sendError("failed to load document")
			return
		}
		h.sessions[req.docID] = s
		go s.Run()
	}
	h.mu.Unlock()

	s.join <- req.client
}

func (h *Hub) openSession(ctx context.Context, docID string) (*Session, error) {
	// Create document in store if it doesn't exist.
	if _, err := h.store.Get(ctx, docID); err != nil {
		if err := h.store.Create(ctx, docID, EmptyDocument()); err != nil {
			return nil, err
		}
	}

	info, err := h.store.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	history, err := h.store.GetOperations(ctx, docID, 0)
	if err != nil {
		return nil, err
	}
	root, err := model.DecodeDocument(info.Content)
	if err != nil {
		return nil, err
	}
	// Operations are flushed before content, so the stored content may lag
	// behind the history. Replay the missing tail.
	if info.Version > len(history) {
		return nil, fmt.Errorf("doc %s: content version %d ahead of history %d", docID, info.Version, len(history))
	}
	for _, op := range history[info.Version:] {
		if err := ot.Apply(root, op); err != nil {
			return nil, fmt.Errorf("doc %s: replay: %w", docID, err)
		}
	}
	if n := len(history) - info.Version; n > 0 {
		h.log.WithFields(logrus.Fields{"doc": docID, "ops": n}).Info("replayed operations missing from content")
	}
	return newSession(docID, root, len(history), history, h.engine, h.store, h.headings, h.log)
}

// GetSession returns the session for a document, if active.
func (h *Hub) GetSession(docID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[docID]
}
