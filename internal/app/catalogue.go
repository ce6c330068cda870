/**
 * @description
 * Workflow catalogue: search, tag filtering, pagination, downloads and publishing.
 */
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/awnexus/billing-service/pkg/storage"
)

const (
	defaultPageSize = 12
	maxPageSize     = 50
)

var (
	workflowSorts = map[string]bool{"newest": true, "popular": true, "title": true}
	slugInvalid   = regexp.MustCompile(`[^a-z0-9]+`)
)

// CatalogueRepository defines the workflow catalogue queries.
type CatalogueRepository interface {
	CountWorkflows(ctx context.Context, q domain.WorkflowQuery) (int, error)
	ListWorkflows(ctx context.Context, q domain.WorkflowQuery, limit, offset int) ([]domain.Workflow, error)
	ListWorkflowTags(ctx context.Context) ([]string, error)
	RecordWorkflowDownload(ctx context.Context, id string) (*domain.Workflow, error)
	InsertWorkflow(ctx context.Context, wf domain.Workflow) (*domain.Workflow, error)
}

// PublishWorkflowRequest adds a workflow file to the catalogue.
type PublishWorkflowRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Tags        []string        `json:"tags"`
	Workflow    json.RawMessage `json:"workflow"`
}

// CatalogueService serves the public workflow catalogue.
type CatalogueService struct {
	repo    CatalogueRepository
	storage storage.Storage
	logger  *slog.Logger
}

// NewCatalogueService creates a new catalogue service.
func NewCatalogueService(repo CatalogueRepository, store storage.Storage, logger *slog.Logger) *CatalogueService {
	return &CatalogueService{repo: repo, storage: store, logger: logger}
}

// normalizeTags lowercases, trims and dedupes tags, keeping their order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func normalizeQuery(q domain.WorkflowQuery) domain.WorkflowQuery {
	q.Search = strings.TrimSpace(q.Search)
	q.Category = strings.TrimSpace(q.Category)
	q.Tags = normalizeTags(q.Tags)
	if !workflowSorts[q.Sort] {
		q.Sort = "newest"
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	return q
}

// SearchWorkflows returns one page of matching workflows. A page past the end is
// clamped to the last page.
func (s *CatalogueService) SearchWorkflows(ctx context.Context, q domain.WorkflowQuery) (*domain.WorkflowPage, error) {
	q = normalizeQuery(q)

	total, err := s.repo.CountWorkflows(ctx, q)
	if err != nil {
		return nil, err
	}
	totalPages := (total + q.PageSize - 1) / q.PageSize
	switch {
	case totalPages == 0:
		q.Page = 1
	case q.Page > totalPages:
		q.Page = totalPages
	}

	items := []domain.Workflow{}
	if total > 0 {
		items, err = s.repo.ListWorkflows(ctx, q, q.PageSize, (q.Page-1)*q.PageSize)
		if err != nil {
			return nil, err
		}
	}

	return &domain.WorkflowPage{
		Items:      items,
		Page:       q.Page,
		PageSize:   q.PageSize,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

// Tags lists every tag in use.
func (s *CatalogueService) Tags(ctx context.Context) ([]string, error) {
	tags, err := s.repo.ListWorkflowTags(ctx)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

// Download counts a download and returns the file URL.
func (s *CatalogueService) Download(ctx context.Context, id string) (string, error) {
	wf, err := s.repo.RecordWorkflowDownload(ctx, id)
	if err != nil {
		return "", err
	}
	url, err := s.storage.URL(ctx, wf.FileKey)
	if err != nil {
		return "", fmt.Errorf("workflow file url: %w", err)
	}
	s.logger.Info("workflow downloaded", "workflow_id", wf.ID, "download_count", wf.DownloadCount)
	return url, nil
}

func slugify(title string) string {
	return strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(title), "-"), "-")
}

// countNodes reads the node count of an exported workflow document.
func countNodes(doc json.RawMessage) (int, error) {
	var parsed struct {
		Nodes []json.RawMessage `json:"nodes"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return 0, &ValidationError{Field: "workflow", Message: "must be a JSON object"}
	}
	if len(parsed.Nodes) == 0 {
		return 0, &ValidationError{Field: "workflow", Message: "has no nodes"}
	}
	return len(parsed.Nodes), nil
}

// Publish stores a workflow file and adds it to the catalogue.
func (s *CatalogueService) Publish(ctx context.Context, req PublishWorkflowRequest) (*domain.Workflow, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Message: "is required"}
	}
	slug := slugify(title)
	if slug == "" {
		return nil, &ValidationError{Field: "title", Message: "must contain letters or digits"}
	}
	nodes, err := countNodes(req.Workflow)
	if err != nil {
		return nil, err
	}

	key := "workflows/" + slug + ".json"
	if err := s.storage.Put(ctx, key, bytes.NewReader(req.Workflow), "application/json"); err != nil {
		return nil, fmt.Errorf("store workflow file: %w", err)
	}

	wf, err := s.repo.InsertWorkflow(ctx, domain.Workflow{
		Slug:        slug,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Category:    strings.ToLower(strings.TrimSpace(req.Category)),
		Tags:        normalizeTags(req.Tags),
		FileKey:     key,
		NodeCount:   nodes,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("workflow published", "workflow_id", wf.ID, "slug", wf.Slug, "node_count", nodes)
	return wf, nil
}
