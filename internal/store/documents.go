package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carzbazzar/api/internal/model"
	"github.com/carzbazzar/api/pkg/fieldpath"
)

var ErrDocumentNotFound = errors.New("document not found")

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's clock when an update is applied.
var ServerTimestamp = serverTimestamp{}

// DocumentStore holds one inspection document per inspection, addressed by
// the document id rather than the application-level inspection id.
type DocumentStore interface {
	Create(ctx context.Context, ins *model.Inspection) (string, error)
	Get(ctx context.Context, docID string) (*model.Inspection, error)
	List(ctx context.Context) ([]model.Inspection, error)
	// Update applies a partial update. Keys are dotted field paths.
	Update(ctx context.Context, docID string, fields map[string]any) error
	Delete(ctx context.Context, docID string) error
}

// applyUpdate writes every field path into doc, resolving ServerTimestamp.
func applyUpdate(doc map[string]any, fields map[string]any, now time.Time) error {
	for path, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			v = now.UTC().Format(time.RFC3339Nano)
		}
		if err := fieldpath.Set(doc, path, fieldpath.Clone(v)); err != nil {
			return fmt.Errorf("update %q: %w", path, err)
		}
	}
	return nil
}

func toDocument(ins *model.Inspection) (map[string]any, error) {
	data, err := json.Marshal(ins)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDocument(doc map[string]any) (*model.Inspection, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var ins model.Inspection
	if err := json.Unmarshal(data, &ins); err != nil {
		return nil, err
	}
	if ins.Sections == nil {
		ins.Sections = make(map[string]any)
	}
	return &ins, nil
}
