package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/meilisearch/meilisearch-go"
)

// FilterableAttributes are the attributes similar-product queries filter on.
var FilterableAttributes = []string{"category", "id", "zones_dispo"}

// SimilarQuery describes a "more like this" lookup.
type SimilarQuery struct {
	Text      string
	ExcludeID string
	Category  string
	Limit     int
}

// Index is the search backend used by the syncer and the similar service.
type Index interface {
	Upsert(ctx context.Context, docs []Document) error
	Delete(ctx context.Context, ids ...string) error
	DocumentIDs(ctx context.Context) ([]string, error)
	Similar(ctx context.Context, q SimilarQuery) ([]Document, error)
}

// idPageSize is the page size used when listing document IDs.
const idPageSize = 1000

type MeiliIndex struct {
	client meilisearch.ServiceManager
	index  meilisearch.IndexManager
	wait   time.Duration
}

func NewMeiliIndex(host, apiKey, indexName string) *MeiliIndex {
	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
	return &MeiliIndex{
		client: client,
		index:  client.Index(indexName),
		wait:   50 * time.Millisecond,
	}
}

// EnsureIndex creates the index if needed and configures filterable
// attributes.
func (m *MeiliIndex) EnsureIndex(ctx context.Context) error {
	if _, err := m.index.FetchInfoWithContext(ctx); err != nil {
		// Adding a document creates the index with "id" as primary key.
		primaryKey := "id"
		seed := []map[string]interface{}{{"id": "init", "title": "init"}}
		task, err := m.index.AddDocumentsWithContext(ctx, seed, &meilisearch.DocumentOptions{PrimaryKey: &primaryKey})
		if err != nil {
			return fmt.Errorf("create index: %w", err)
		}
		if err := m.waitFor(ctx, task); err != nil {
			return fmt.Errorf("wait for index creation: %w", err)
		}
		if err := m.Delete(ctx, "init"); err != nil {
			return fmt.Errorf("remove seed document: %w", err)
		}
	}

	attrs := make([]interface{}, 0, len(FilterableAttributes))
	for _, a := range FilterableAttributes {
		attrs = append(attrs, a)
	}
	task, err := m.index.UpdateFilterableAttributesWithContext(ctx, &attrs)
	if err != nil {
		return fmt.Errorf("set filterable attributes: %w", err)
	}
	if err := m.waitFor(ctx, task); err != nil {
		return fmt.Errorf("wait for settings update: %w", err)
	}
	return nil
}

func (m *MeiliIndex) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	task, err := m.index.AddDocumentsWithContext(ctx, docs, nil)
	if err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	if err := m.waitFor(ctx, task); err != nil {
		return fmt.Errorf("wait for indexing: %w", err)
	}
	return nil
}

func (m *MeiliIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	task, err := m.index.DeleteDocumentsWithContext(ctx, ids, nil)
	if err != nil {
		return fmt.Errorf("delete %d documents: %w", len(ids), err)
	}
	if err := m.waitFor(ctx, task); err != nil {
		return fmt.Errorf("wait for delete: %w", err)
	}
	return nil
}

// DocumentIDs lists the primary key of every indexed document.
func (m *MeiliIndex) DocumentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for offset := int64(0); ; offset += idPageSize {
		var page meilisearch.DocumentsResult
		err := m.index.GetDocumentsWithContext(ctx, &meilisearch.DocumentsQuery{
			Offset: offset,
			Limit:  idPageSize,
			Fields: []string{"id"},
		}, &page)
		if err != nil {
			return nil, fmt.Errorf("list documents at %d: %w", offset, err)
		}
		for _, hit := range page.Results {
			doc, err := decodeHit(hit)
			if err != nil || doc.ID == "" {
				continue
			}
			ids = append(ids, doc.ID)
		}
		if len(page.Results) < idPageSize {
			return ids, nil
		}
	}
}

func (m *MeiliIndex) Similar(ctx context.Context, q SimilarQuery) ([]Document, error) {
	req := &meilisearch.SearchRequest{
		Query: q.Text,
		Limit: int64(q.Limit),
	}
	if f := similarFilter(q); f != "" {
		req.Filter = f
	}

	result, err := m.index.SearchWithContext(ctx, q.Text, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	docs := make([]Document, 0, len(result.Hits))
	for _, hit := range result.Hits {
		doc, err := decodeHit(hit)
		if err != nil || doc.ID == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// waitFor blocks until task finishes and reports a failed task as an error.
func (m *MeiliIndex) waitFor(ctx context.Context, info *meilisearch.TaskInfo) error {
	task, err := m.index.WaitForTaskWithContext(ctx, info.TaskUID, m.wait)
	if err != nil {
		return err
	}
	if task.Status == meilisearch.TaskStatusFailed {
		return fmt.Errorf("task %d failed: %s", info.TaskUID, task.Error.Message)
	}
	return nil
}

func similarFilter(q SimilarQuery) string {
	var parts []string
	if q.ExcludeID != "" {
		parts = append(parts, "id != "+quote(q.ExcludeID))
	}
	if q.Category != "" {
		parts = append(parts, "category = "+quote(q.Category))
	}
	return strings.Join(parts, " AND ")
}

func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func decodeHit(hit interface{}) (Document, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}
