package reference

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Repository publishes the current reference snapshot. Reloads compile a new
// snapshot off to the side and swap it in atomically; a failed reload leaves
// the previous snapshot in place.
type Repository struct {
	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	path       string
	logger     *logrus.Logger

	reloadMu  sync.Mutex
	listeners []func(*Snapshot)
}

// NewRepository loads the reference data from path, or the built-in tables when path is empty.
func NewRepository(path string, logger *logrus.Logger) (*Repository, error) {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Repository{path: path, logger: logger}

	var (
		snap *Snapshot
		err  error
	)
	if path == "" {
		snap, err = Compile(DefaultDocument())
	} else {
		snap, err = LoadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}
	r.publish(snap)
	return r, nil
}

// NewRepositoryFromDocument builds a repository around an in-memory document.
func NewRepositoryFromDocument(doc *Document, logger *logrus.Logger) (*Repository, error) {
	if logger == nil {
		logger = logrus.New()
	}
	snap, err := Compile(doc)
	if err != nil {
		return nil, err
	}
	r := &Repository{logger: logger}
	r.publish(snap)
	return r, nil
}

// Snapshot returns the current snapshot. Callers should hold on to the
// returned value for the duration of one logical operation.
func (r *Repository) Snapshot() *Snapshot {
	return r.current.Load()
}

// Path returns the reference file path, empty for built-in data.
func (r *Repository) Path() string {
	return r.path
}

// OnReload registers a callback invoked after each successful swap.
func (r *Repository) OnReload(fn func(*Snapshot)) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload re-reads the configured file (or rebuilds the built-in tables).
func (r *Repository) Reload() (*Snapshot, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	var (
		snap *Snapshot
		err  error
	)
	if r.path == "" {
		snap, err = Compile(DefaultDocument())
	} else {
		snap, err = LoadFile(r.path)
	}
	if err != nil {
		r.logger.WithError(err).WithField("path", r.path).Warn("Reference reload rejected, keeping current snapshot")
		return nil, err
	}
	r.publishLocked(snap)
	return snap, nil
}

// ReloadFrom compiles a document read from rd and swaps it in.
func (r *Repository) ReloadFrom(rd io.Reader) (*Snapshot, error) {
	doc, err := Decode(rd)
	if err != nil {
		return nil, err
	}
	return r.Replace(doc)
}

// Replace compiles doc and swaps it in.
func (r *Repository) Replace(doc *Document) (*Snapshot, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	snap, err := Compile(doc)
	if err != nil {
		r.logger.WithError(err).Warn("Reference replacement rejected, keeping current snapshot")
		return nil, err
	}
	r.publishLocked(snap)
	return snap, nil
}

func (r *Repository) publish(snap *Snapshot) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	r.publishLocked(snap)
}

func (r *Repository) publishLocked(snap *Snapshot) {
	snap.generation = r.generation.Add(1)
	r.current.Store(snap)

	r.logger.WithFields(logrus.Fields{
		"version":    snap.version,
		"generation": snap.generation,
		"groups":     len(snap.groups),
		"codes":      len(snap.codes),
	}).Info("Reference snapshot published")

	for _, fn := range r.listeners {
		fn(snap)
	}
}
