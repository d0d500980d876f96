package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/komodo-search/komodo/pkg/errors"
)

// Compile-time check: MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

type termDocKey struct {
	index, term, source string
}

// MemoryStore is an in-process Store used by tests and ephemeral setups.
type MemoryStore struct {
	mu       sync.RWMutex
	indices  map[string]IndexRecord
	sources  map[string]SourceDocument
	parsed   map[string]ParsedDocument
	terms    map[string]TermMap // index|term
	termDocs map[termDocKey]TermDoc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		indices:  make(map[string]IndexRecord),
		sources:  make(map[string]SourceDocument),
		parsed:   make(map[string]ParsedDocument),
		terms:    make(map[string]TermMap),
		termDocs: make(map[termDocKey]TermDoc),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Ping(context.Context) error    { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) CreateIndex(_ context.Context, rec IndexRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.indices {
		if r.Name == rec.Name {
			return fmt.Errorf("inserting index %s: %w", rec.Name, apperrors.ErrDocumentExists)
		}
	}
	if _, ok := m.indices[rec.GUID]; ok {
		return fmt.Errorf("inserting index %s: %w", rec.Name, apperrors.ErrDocumentExists)
	}
	m.indices[rec.GUID] = rec
	return nil
}

func (m *MemoryStore) DeleteIndex(_ context.Context, guid string) error {
	m.mu.Lock()
	delete(m.indices, guid)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetIndexByName(_ context.Context, name string) (IndexRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.indices {
		if r.Name == name {
			return r, nil
		}
	}
	return IndexRecord{}, fmt.Errorf("index %s: %w", name, apperrors.ErrIndexNotFound)
}

func (m *MemoryStore) ListIndices(context.Context) ([]IndexRecord, error) {
	m.mu.RLock()
	out := make([]IndexRecord, 0, len(m.indices))
	for _, r := range m.indices {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) PurgeIndex(_ context.Context, indexGUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, l := range m.termDocs {
		if l.IndexGUID == indexGUID {
			delete(m.termDocs, k)
		}
	}
	for k, t := range m.terms {
		if t.IndexGUID == indexGUID {
			delete(m.terms, k)
		}
	}
	for k, d := range m.parsed {
		if d.IndexGUID == indexGUID {
			delete(m.parsed, k)
		}
	}
	for k, d := range m.sources {
		if d.IndexGUID == indexGUID {
			delete(m.sources, k)
		}
	}
	return nil
}

func (m *MemoryStore) InsertSourceDocument(_ context.Context, doc SourceDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[doc.GUID]; ok {
		return fmt.Errorf("inserting source document %s: %w", doc.GUID, apperrors.ErrDocumentExists)
	}
	doc.Tags = append(nonNilTags(nil), doc.Tags...)
	m.sources[doc.GUID] = doc
	return nil
}

func (m *MemoryStore) GetSourceDocument(_ context.Context, indexGUID, guid string) (SourceDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.sources[guid]
	if !ok || d.IndexGUID != indexGUID {
		return SourceDocument{}, fmt.Errorf("source document %s: %w", guid, apperrors.ErrDocumentNotFound)
	}
	return d, nil
}

func (m *MemoryStore) ListSourceDocuments(_ context.Context, indexGUID string, page Page) ([]SourceDocument, error) {
	m.mu.RLock()
	var out []SourceDocument
	needle := strings.ToLower(page.NameContains)
	for _, d := range m.sources {
		if d.IndexGUID != indexGUID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(d.Name), needle) {
			continue
		}
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	if page.Offset >= len(out) {
		return nil, nil
	}
	out = out[page.Offset:]
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (m *MemoryStore) SetSourceIndexed(_ context.Context, indexGUID, guid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.sources[guid]
	if !ok || d.IndexGUID != indexGUID {
		return fmt.Errorf("source document %s: %w", guid, apperrors.ErrDocumentNotFound)
	}
	at = at.UTC()
	d.Indexed = &at
	m.sources[guid] = d
	return nil
}

func (m *MemoryStore) DeleteSourceDocument(_ context.Context, indexGUID, guid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.sources[guid]; ok && d.IndexGUID == indexGUID {
		delete(m.sources, guid)
	}
	return nil
}

func (m *MemoryStore) InsertParsedDocument(_ context.Context, doc ParsedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.parsed[doc.GUID]; ok {
		return fmt.Errorf("inserting parsed document %s: %w", doc.GUID, apperrors.ErrDocumentExists)
	}
	m.parsed[doc.GUID] = doc
	return nil
}

func (m *MemoryStore) GetParsedDocumentBySource(_ context.Context, indexGUID, sourceGUID string) (ParsedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.parsed {
		if d.IndexGUID == indexGUID && d.SourceDocumentGUID == sourceGUID {
			return d, nil
		}
	}
	return ParsedDocument{}, fmt.Errorf("parsed document for %s: %w", sourceGUID, apperrors.ErrDocumentNotFound)
}

func (m *MemoryStore) DeleteParsedDocument(_ context.Context, indexGUID, guid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.parsed[guid]; ok && d.IndexGUID == indexGUID {
		delete(m.parsed, guid)
	}
	return nil
}

func (m *MemoryStore) GetTerm(_ context.Context, indexGUID, term string) (TermMap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.terms[indexGUID+"|"+term]
	if !ok {
		return TermMap{}, fmt.Errorf("term %q: %w", term, apperrors.ErrNotFound)
	}
	return t, nil
}

func (m *MemoryStore) InsertTerm(_ context.Context, tm TermMap) (TermMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tm.IndexGUID + "|" + tm.Term
	if existing, ok := m.terms[k]; ok {
		return existing, nil
	}
	m.terms[k] = tm
	return tm, nil
}

func (m *MemoryStore) InsertTermDocs(_ context.Context, links []TermDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range links {
		k := termDocKey{l.IndexGUID, l.TermGUID, l.SourceDocumentGUID}
		if _, ok := m.termDocs[k]; !ok {
			m.termDocs[k] = l
		}
	}
	return nil
}

func (m *MemoryStore) DeleteTermDocsBySource(_ context.Context, indexGUID, sourceGUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.termDocs {
		if k.index == indexGUID && k.source == sourceGUID {
			delete(m.termDocs, k)
		}
	}
	return nil
}

func (m *MemoryStore) SourceGUIDsForTerm(_ context.Context, indexGUID, termGUID string) ([]string, error) {
	m.mu.RLock()
	out := make([]string, 0)
	for k := range m.termDocs {
		if k.index == indexGUID && k.term == termGUID {
			out = append(out, k.source)
		}
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) TermGUIDsForSource(_ context.Context, indexGUID, sourceGUID string) ([]string, error) {
	m.mu.RLock()
	out := make([]string, 0)
	for k := range m.termDocs {
		if k.index == indexGUID && k.source == sourceGUID {
			out = append(out, k.term)
		}
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context, indexGUID string) (IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st IndexStats
	for _, d := range m.sources {
		if d.IndexGUID != indexGUID {
			continue
		}
		st.SourceDocuments++
		st.SourceContentBytes += d.ContentLength
		if d.Indexed != nil {
			st.IndexedDocuments++
		}
	}
	for _, d := range m.parsed {
		if d.IndexGUID != indexGUID {
			continue
		}
		st.ParsedDocuments++
		st.ParsedContentBytes += d.ParsedContentLength
		st.Postings += d.PostingCount
	}
	for _, t := range m.terms {
		if t.IndexGUID == indexGUID {
			st.Terms++
		}
	}
	for k := range m.termDocs {
		if k.index == indexGUID {
			st.TermDocuments++
		}
	}
	return st, nil
}
