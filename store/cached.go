package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alimasry/go-block-editor/ot"
)

// pending is what a cached document still owes its backing store.
type pending struct {
	create  bool // not written to the backing store yet
	edits   int  // content updates not yet written
	flushed int  // history entries already written
}

func (p *pending) clean(historyLen int) bool {
	return !p.create && p.edits == 0 && p.flushed >= historyLen
}

// CachedStore serves every read and write from memory and writes changes
// behind to a slower DocumentStore on a timer. Operations reach the
// backing store before the content that includes them.
type CachedStore struct {
	backing  DocumentStore
	cache    *MemoryStore
	log      *logrus.Entry
	interval time.Duration

	mu    sync.Mutex
	dirty map[string]*pending

	stop chan struct{}
	done chan struct{}
}

// NewCachedStore starts the flush loop. Call Close to stop it.
func NewCachedStore(backing DocumentStore, flushInterval time.Duration, log *logrus.Entry) *CachedStore {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	cs := &CachedStore{
		backing:  backing,
		cache:    NewMemoryStore(),
		log:      log.WithField("component", "cached_store"),
		interval: flushInterval,
		dirty:    make(map[string]*pending),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go cs.run()
	return cs
}

// mark records a local change. base is the number of history entries the
// backing store is known to hold when the document was clean.
func (cs *CachedStore) mark(id string, base int, fn func(p *pending)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	p := cs.dirty[id]
	if p == nil {
		p = &pending{flushed: base}
		cs.dirty[id] = p
	}
	fn(p)
}

// ensure loads a document and its history into the cache on first use.
func (cs *CachedStore) ensure(ctx context.Context, id string) error {
	if cs.cache.has(id) {
		return nil
	}
	info, err := cs.backing.Get(ctx, id)
	if err != nil {
		return err
	}
	history, err := cs.backing.GetOperations(ctx, id, 0)
	if err != nil {
		return fmt.Errorf("load history of %q: %w", id, err)
	}
	cs.cache.seed(*info, history)
	cs.log.WithFields(logrus.Fields{"doc": id, "ops": len(history)}).Debug("loaded from backing store")
	return nil
}

func (cs *CachedStore) Create(ctx context.Context, id, content string) error {
	if cs.cache.has(id) {
		return fmt.Errorf("%w: %q", ErrExists, id)
	}
	if _, err := cs.backing.Get(ctx, id); err == nil {
		return fmt.Errorf("%w: %q", ErrExists, id)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := cs.cache.Create(ctx, id, content); err != nil {
		return err
	}
	cs.mark(id, 0, func(p *pending) {
		p.create = true
		p.edits++
	})
	return nil
}

func (cs *CachedStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	if err := cs.ensure(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.Get(ctx, id)
}

// List reports what the backing store holds. Documents created since the
// last flush are not included.
func (cs *CachedStore) List(ctx context.Context) ([]DocumentInfo, error) {
	return cs.backing.List(ctx)
}

func (cs *CachedStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	if err := cs.ensure(ctx, id); err != nil {
		return err
	}
	if err := cs.cache.UpdateContent(ctx, id, content, version); err != nil {
		return err
	}
	cs.mark(id, cs.cache.historyLen(id), func(p *pending) { p.edits++ })
	return nil
}

func (cs *CachedStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	if err := cs.ensure(ctx, id); err != nil {
		return err
	}
	base := cs.cache.historyLen(id)
	if err := cs.cache.AppendOperation(ctx, id, op, version); err != nil {
		return err
	}
	cs.mark(id, base, func(*pending) {})
	return nil
}

func (cs *CachedStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	if err := cs.ensure(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.GetOperations(ctx, id, fromVersion)
}

func (cs *CachedStore) run() {
	defer close(cs.done)
	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cs.Flush(context.Background())
		case <-cs.stop:
			cs.Flush(context.Background())
			return
		}
	}
}

// Flush writes every dirty document to the backing store. A document that
// fails stays dirty and is retried by the next flush.
func (cs *CachedStore) Flush(ctx context.Context) {
	cs.mu.Lock()
	work := make(map[string]pending, len(cs.dirty))
	for id, p := range cs.dirty {
		work[id] = *p
	}
	cs.mu.Unlock()

	for id, p := range work {
		done := cs.flushDoc(ctx, id, p)
		cs.settle(id, p, done)
	}
}

// flushDoc writes one document and returns how far it got.
func (cs *CachedStore) flushDoc(ctx context.Context, id string, p pending) pending {
	log := cs.log.WithField("doc", id)
	done := p

	info, err := cs.cache.Get(ctx, id)
	if err != nil {
		log.WithError(err).Warn("dirty document missing from cache")
		return done
	}
	history, err := cs.cache.GetOperations(ctx, id, p.flushed)
	if err != nil {
		log.WithError(err).Warn("read cached history")
		return done
	}

	if p.create {
		if err := cs.backing.Create(ctx, id, ""); err != nil && !errors.Is(err, ErrExists) {
			log.WithError(err).Warn("create in backing store failed")
			return done
		}
		done.create = false
	}

	for _, op := range history {
		version := done.flushed + 1
		if err := cs.backing.AppendOperation(ctx, id, op, version); err != nil {
			log.WithError(err).WithField("version", version).Warn("flush operation failed")
			return done
		}
		done.flushed = version
	}

	if p.edits > 0 {
		if err := cs.backing.UpdateContent(ctx, id, info.Content, info.Version); err != nil {
			log.WithError(err).Warn("flush content failed")
			return done
		}
		done.edits = 0
	}
	return done
}

// settle applies a flush result to the live dirty entry. Changes made while
// the flush ran keep the entry dirty.
func (cs *CachedStore) settle(id string, before, after pending) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cur := cs.dirty[id]
	if cur == nil {
		return
	}
	if !after.create {
		cur.create = false
	}
	cur.edits -= before.edits - after.edits
	cur.flushed = after.flushed
	if cur.clean(cs.cache.historyLen(id)) {
		delete(cs.dirty, id)
	}
}

// Close stops the flush loop after a final flush.
func (cs *CachedStore) Close() {
	close(cs.stop)
	<-cs.done
}
