package komodo

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/komodo-search/komodo/internal/metadata"
	apperrors "github.com/komodo-search/komodo/pkg/errors"
)

// Manager owns every open Index and keeps the set in step with the index
// table. The mutex guards only the maps; opening, closing and destroying
// indices happen outside it.
type Manager struct {
	opts     Options
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	byGUID map[string]*Index
	byName map[string]*Index

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(opts Options, syncInterval time.Duration) *Manager {
	if syncInterval <= 0 {
		syncInterval = 10 * time.Second
	}
	return &Manager{
		opts:     opts,
		interval: syncInterval,
		logger:   slog.Default().With("component", "index-manager"),
		byGUID:   make(map[string]*Index),
		byName:   make(map[string]*Index),
	}
}

// Add returns the open index named rec.Name, creating its row and opening
// it when needed. A missing GUID or creation time is filled in.
func (m *Manager) Add(ctx context.Context, rec metadata.IndexRecord) (*Index, error) {
	if rec.Name == "" {
		return nil, apperrors.New(apperrors.IDMissingParams, apperrors.ErrInvalidInput, "index name is required")
	}
	if idx, ok := m.Get(rec.Name); ok {
		return idx, nil
	}

	stored, err := m.opts.Metadata.GetIndexByName(ctx, rec.Name)
	switch {
	case err == nil:
		rec = stored
	case apperrors.IsNotFound(err):
		if rec.GUID == "" {
			rec.GUID = metadata.NewGUID()
		}
		if rec.Created.IsZero() {
			rec.Created = time.Now().UTC()
		}
		if err := m.opts.Metadata.CreateIndex(ctx, rec); err != nil {
			// Lost a race with another writer of the same name.
			if existing, gerr := m.opts.Metadata.GetIndexByName(ctx, rec.Name); gerr == nil {
				rec = existing
			} else {
				return nil, apperrors.Wrap(apperrors.IDWriteError, err, "creating index "+rec.Name)
			}
		} else {
			m.logger.Info("index created", "index", rec.Name, "index_guid", rec.GUID)
		}
	default:
		return nil, apperrors.Wrap(apperrors.IDReadError, err, "looking up index "+rec.Name)
	}

	idx, err := OpenIndex(rec, m.opts)
	if err != nil {
		return nil, err
	}
	return m.install(idx), nil
}

// install publishes idx unless another goroutine got there first, in which
// case idx is closed and the winner returned.
func (m *Manager) install(idx *Index) *Index {
	m.mu.Lock()
	if existing, ok := m.byName[idx.Name()]; ok {
		m.mu.Unlock()
		_ = idx.Close()
		return existing
	}
	if existing, ok := m.byGUID[idx.GUID()]; ok {
		m.mu.Unlock()
		_ = idx.Close()
		return existing
	}
	m.byGUID[idx.GUID()] = idx
	m.byName[idx.Name()] = idx
	n := len(m.byGUID)
	m.mu.Unlock()
	m.opts.Metrics.SetActiveIndices(n)
	return idx
}

func (m *Manager) detach(idx *Index) bool {
	m.mu.Lock()
	cur, ok := m.byGUID[idx.GUID()]
	if !ok || cur != idx {
		m.mu.Unlock()
		return false
	}
	delete(m.byGUID, idx.GUID())
	if m.byName[idx.Name()] == idx {
		delete(m.byName, idx.Name())
	}
	n := len(m.byGUID)
	m.mu.Unlock()
	m.opts.Metrics.SetActiveIndices(n)
	return true
}

// Remove drops the index and its row. With destroy set, every document of
// the index is deleted as well.
func (m *Manager) Remove(ctx context.Context, name string, destroy bool) error {
	idx, ok := m.Get(name)
	if ok {
		m.detach(idx)
	} else {
		rec, err := m.opts.Metadata.GetIndexByName(ctx, name)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return apperrors.Wrap(apperrors.IDRetrieveFailed, err, "removing index")
			}
			return apperrors.Wrap(apperrors.IDReadError, err, "removing index")
		}
		if idx, err = OpenIndex(rec, m.opts); err != nil {
			return err
		}
	}

	if err := m.opts.Metadata.DeleteIndex(ctx, idx.GUID()); err != nil {
		return apperrors.Wrap(apperrors.IDDeleteError, err, "deleting index "+name)
	}
	var err error
	if destroy {
		err = idx.Destroy(ctx)
	} else {
		err = idx.Close()
	}
	m.logger.Info("index removed", "index", name, "index_guid", idx.GUID(), "destroy", destroy)
	return err
}

// Get returns the open index with the given name.
func (m *Manager) Get(name string) (*Index, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.byName[name]
	return idx, ok
}

// GetByGUID returns the open index with the given GUID.
func (m *Manager) GetByGUID(guid string) (*Index, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.byGUID[guid]
	return idx, ok
}

// Exists reports whether an index with the given name is open.
func (m *Manager) Exists(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// List returns a snapshot of the open indices ordered by name.
func (m *Manager) List() []*Index {
	m.mu.Lock()
	out := make([]*Index, 0, len(m.byGUID))
	for _, idx := range m.byGUID {
		out = append(out, idx)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Reconcile brings the open set in line with the index table. Indices no
// longer in the table are closed first, without touching their data, then
// newly listed ones are opened. Dropping first means an index whose name
// now maps to a new GUID is never open twice.
func (m *Manager) Reconcile(ctx context.Context) error {
	rows, err := m.opts.Metadata.ListIndices(ctx)
	if err != nil {
		m.opts.Metrics.Reconciled(true)
		return apperrors.Wrap(apperrors.IDReadError, err, "listing indices")
	}
	want := make(map[string]metadata.IndexRecord, len(rows))
	for _, r := range rows {
		want[r.GUID] = r
	}

	var stale []*Index
	m.mu.Lock()
	for guid, idx := range m.byGUID {
		if r, ok := want[guid]; !ok || r.Name != idx.Name() {
			stale = append(stale, idx)
			delete(m.byGUID, guid)
			if m.byName[idx.Name()] == idx {
				delete(m.byName, idx.Name())
			}
		}
	}
	var fresh []metadata.IndexRecord
	for guid, r := range want {
		if _, ok := m.byGUID[guid]; !ok {
			fresh = append(fresh, r)
		}
	}
	m.mu.Unlock()

	for _, idx := range stale {
		if err := idx.Close(); err != nil {
			m.logger.Error("closing stale index", "index", idx.Name(), "error", err)
		}
		m.logger.Info("index dropped by reconciliation", "index", idx.Name(), "index_guid", idx.GUID())
	}

	var errs []error
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Name < fresh[j].Name })
	for _, r := range fresh {
		idx, err := OpenIndex(r, m.opts)
		if err != nil {
			errs = append(errs, err)
			m.logger.Error("opening index", "index", r.Name, "error", err)
			continue
		}
		if m.install(idx) == idx {
			m.logger.Info("index opened by reconciliation", "index", r.Name, "index_guid", r.GUID)
		}
	}

	m.mu.Lock()
	n := len(m.byGUID)
	m.mu.Unlock()
	m.opts.Metrics.SetActiveIndices(n)
	err = errors.Join(errs...)
	m.opts.Metrics.Reconciled(err != nil)
	return err
}

// Start reconciles once, then again every sync interval until ctx is done
// or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Reconcile(ctx); err != nil {
		m.logger.Error("initial reconciliation failed", "error", err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	ticker := time.NewTicker(m.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				m.logger.Info("reconciliation loop stopping")
				return
			case <-ticker.C:
				if err := m.Reconcile(loopCtx); err != nil && loopCtx.Err() == nil {
					m.logger.Error("reconciliation failed", "error", err)
				}
			}
		}
	}()
	m.logger.Info("reconciliation loop started", "interval", m.interval)
	return nil
}

// Close stops the reconciliation loop and closes every open index.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	indices := make([]*Index, 0, len(m.byGUID))
	for _, idx := range m.byGUID {
		indices = append(indices, idx)
	}
	m.byGUID = make(map[string]*Index)
	m.byName = make(map[string]*Index)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	var g errgroup.Group
	for _, idx := range indices {
		g.Go(idx.Close)
	}
	err := g.Wait()
	m.opts.Metrics.SetActiveIndices(0)
	m.logger.Info("index manager closed", "indices", len(indices))
	return err
}
