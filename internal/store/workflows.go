package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/awnexus/billing-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

const workflowColumns = `
	id, slug, title, description, category, tags, file_key, node_count, download_count, created_at`

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var wf domain.Workflow
	if err := row.Scan(
		&wf.ID,
		&wf.Slug,
		&wf.Title,
		&wf.Description,
		&wf.Category,
		&wf.Tags,
		&wf.FileKey,
		&wf.NodeCount,
		&wf.DownloadCount,
		&wf.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &wf, nil
}

// workflowFilter builds the WHERE clause shared by the count and list queries.
func workflowFilter(q domain.WorkflowQuery) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if search := strings.TrimSpace(q.Search); search != "" {
		args = append(args, "%"+search+"%")
		clauses = append(clauses, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if len(q.Tags) > 0 {
		args = append(args, q.Tags)
		clauses = append(clauses, fmt.Sprintf("tags @> $%d::TEXT[]", len(args)))
	}
	if category := strings.TrimSpace(q.Category); category != "" {
		args = append(args, category)
		clauses = append(clauses, fmt.Sprintf("category = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func workflowOrder(sort string) string {
	switch sort {
	case "popular":
		return " ORDER BY download_count DESC, created_at DESC"
	case "title":
		return " ORDER BY title ASC"
	default:
		return " ORDER BY created_at DESC"
	}
}

// CountWorkflows counts catalogue entries matching the query filters.
func (r *Repository) CountWorkflows(ctx context.Context, q domain.WorkflowQuery) (int, error) {
	where, args := workflowFilter(q)
	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM workflows"+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count workflows: %w", err)
	}
	return total, nil
}

// ListWorkflows returns one window of catalogue entries matching the query.
func (r *Repository) ListWorkflows(ctx context.Context, q domain.WorkflowQuery, limit, offset int) ([]domain.Workflow, error) {
	where, args := workflowFilter(q)
	args = append(args, limit, offset)
	query := "SELECT " + workflowColumns + " FROM workflows" + where + workflowOrder(q.Sort) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	workflows := []domain.Workflow{}
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// ListWorkflowTags returns every distinct tag in the catalogue.
func (r *Repository) ListWorkflowTags(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT unnest(tags) AS tag FROM workflows ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("list workflow tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// RecordWorkflowDownload bumps the download counter and returns the workflow.
func (r *Repository) RecordWorkflowDownload(ctx context.Context, id string) (*domain.Workflow, error) {
	query := `
		UPDATE workflows
		SET download_count = download_count + 1
		WHERE id = $1
		RETURNING ` + workflowColumns
	return scanWorkflow(r.db.QueryRow(ctx, query, id))
}

// InsertWorkflow adds a catalogue entry. A taken slug returns ErrConflict.
func (r *Repository) InsertWorkflow(ctx context.Context, wf domain.Workflow) (*domain.Workflow, error) {
	query := `
		INSERT INTO workflows (slug, title, description, category, tags, file_key, node_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + workflowColumns
	created, err := scanWorkflow(r.db.QueryRow(ctx, query, wf.Slug, wf.Title, wf.Description, wf.Category, wf.Tags, wf.FileKey, wf.NodeCount))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert workflow: %w", err)
	}
	return created, nil
}
