package session

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/a3tai/mcp-pdf-annotator/internal/engine"
	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/pagecache"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
)

// Opener loads documents
type Opener interface {
	Open(path string) (engine.Document, error)
}

// Info describes an open session
type Info struct {
	DocumentID  string `json:"document_id"`
	Name        string `json:"name"`
	PageCount   int    `json:"page_count"`
	Annotations int    `json:"annotations"`
	Unsaved     int    `json:"unsaved"`
}

// Workspace holds the open sessions by document identity
type Workspace struct {
	opener   Opener
	store    store.Store
	previews *pagecache.Cache
	opts     Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewWorkspace creates a workspace. previewCapacity bounds the previews kept
// across all sessions.
func NewWorkspace(opener Opener, st store.Store, previewCapacity int, opts Options) *Workspace {
	return &Workspace{
		opener:   opener,
		store:    st,
		previews: pagecache.New(previewCapacity),
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Store returns the annotation store shared by all sessions
func (w *Workspace) Store() store.Store {
	return w.store
}

// Previews returns the shared preview cache
func (w *Workspace) Previews() *pagecache.Cache {
	return w.previews
}

// Open loads the document at path. Opening a document that is already open,
// under any path, returns the existing session.
func (w *Workspace) Open(ctx context.Context, path string) (*Session, error) {
	if w.opener == nil {
		return nil, annerrors.New(annerrors.ErrorTypeDocumentLoadFailure, "no document engine configured")
	}
	doc, err := w.opener.Open(path)
	if err != nil {
		return nil, err
	}
	return w.Adopt(ctx, doc)
}

// Adopt starts a session for an already opened document. The workspace owns
// doc afterwards.
func (w *Workspace) Adopt(ctx context.Context, doc engine.Document) (*Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.sessions[doc.ID()]; ok {
		_ = doc.Close()
		return existing, nil
	}

	s, err := New(ctx, doc, w.store, w.previews, w.opts)
	if err != nil {
		_ = doc.Close()
		return nil, err
	}
	w.sessions[doc.ID()] = s
	if w.opts.Debug {
		log.Printf("Workspace: opened %s (%s)", doc.Name(), doc.ID())
	}
	return s, nil
}

// Get returns the session of a document
func (w *Workspace) Get(documentID string) (*Session, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s, ok := w.sessions[documentID]
	if !ok {
		return nil, annerrors.Newf(annerrors.ErrorTypeNotFound, "document %s is not open", documentID).
			WithDocument(documentID)
	}
	return s, nil
}

// List describes the open sessions ordered by name
func (w *Workspace) List() []Info {
	w.mu.RLock()
	sessions := make([]*Session, 0, len(w.sessions))
	for _, s := range w.sessions {
		sessions = append(sessions, s)
	}
	w.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Info{
			DocumentID:  s.ID(),
			Name:        s.Name(),
			PageCount:   s.PageCount(),
			Annotations: len(s.Annotations()),
			Unsaved:     s.Unsaved(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}

// Close ends the session of a document
func (w *Workspace) Close(documentID string) error {
	w.mu.Lock()
	s, ok := w.sessions[documentID]
	delete(w.sessions, documentID)
	w.mu.Unlock()

	if !ok {
		return annerrors.Newf(annerrors.ErrorTypeNotFound, "document %s is not open", documentID).
			WithDocument(documentID)
	}
	return s.Close()
}

// CloseAll ends every session
func (w *Workspace) CloseAll() error {
	w.mu.Lock()
	sessions := w.sessions
	w.sessions = make(map[string]*Session)
	w.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
