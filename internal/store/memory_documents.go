package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carzbazzar/api/internal/model"
	"github.com/carzbazzar/api/pkg/fieldpath"
)

// MemoryDocuments is an in-process DocumentStore used in development and tests
type MemoryDocuments struct {
	mu   sync.Mutex
	docs map[string]map[string]any
	now  func() time.Time
}

func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{
		docs: make(map[string]map[string]any),
		now:  time.Now,
	}
}

func (m *MemoryDocuments) Create(ctx context.Context, ins *model.Inspection) (string, error) {
	docID := ins.DocID
	if docID == "" {
		docID = uuid.New().String()
	}
	c := *ins
	c.DocID = docID
	doc, err := toDocument(&c)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.docs[docID] = doc
	m.mu.Unlock()
	return docID, nil
}

func (m *MemoryDocuments) Get(ctx context.Context, docID string) (*model.Inspection, error) {
	m.mu.Lock()
	doc, ok := m.docs[docID]
	if ok {
		doc = fieldpath.CloneMap(doc)
	}
	m.mu.Unlock()

	if !ok {
		return nil, ErrDocumentNotFound
	}
	return fromDocument(doc)
}

// List returns documents newest first
func (m *MemoryDocuments) List(ctx context.Context) ([]model.Inspection, error) {
	m.mu.Lock()
	docs := make([]map[string]any, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, fieldpath.CloneMap(d))
	}
	m.mu.Unlock()

	out := make([]model.Inspection, 0, len(docs))
	for _, d := range docs {
		ins, err := fromDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *ins)
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryDocuments) Update(ctx context.Context, docID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[docID]
	if !ok {
		return ErrDocumentNotFound
	}
	updated := fieldpath.CloneMap(doc)
	if err := applyUpdate(updated, fields, m.now()); err != nil {
		return err
	}
	m.docs[docID] = updated
	return nil
}

func (m *MemoryDocuments) Delete(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[docID]; !ok {
		return ErrDocumentNotFound
	}
	delete(m.docs, docID)
	return nil
}

func sortNewestFirst(list []model.Inspection) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
