package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/weftworks/weft/common/cache"
	"github.com/weftworks/weft/common/db"
	"github.com/weftworks/weft/common/models"
	"github.com/weftworks/weft/common/sdk"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// definitionTTL bounds how stale a cached definition can be on instances
// that missed the invalidation.
const definitionTTL = 5 * time.Minute

func definitionKey(workflowID string) string {
	return fmt.Sprintf("workflow:def:%s", workflowID)
}

// WorkflowRepository handles database operations for workflow definitions.
// Reads of the definition JSON go through a cache-aside layer: every
// execution start loads the definition, so the hot path skips Postgres.
type WorkflowRepository struct {
	db    *db.DB
	cache cache.Cache // nil disables caching
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB, c cache.Cache) *WorkflowRepository {
	return &WorkflowRepository{db: database, cache: c}
}

// Create inserts a new workflow
func (r *WorkflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	query := `
		INSERT INTO workflow (workflow_id, name, definition, active, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query,
		wf.WorkflowID,
		wf.Name,
		wf.Definition,
		wf.Active,
		wf.OwnerID,
		wf.CreatedAt,
		wf.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// Get retrieves a workflow by its ID
func (r *WorkflowRepository) Get(ctx context.Context, workflowID string) (*models.Workflow, error) {
	query := `
		SELECT workflow_id, name, definition, active, owner_id, created_at, updated_at
		FROM workflow
		WHERE workflow_id = $1
	`

	wf := &models.Workflow{}
	err := r.db.QueryRow(ctx, query, workflowID).Scan(
		&wf.WorkflowID,
		&wf.Name,
		&wf.Definition,
		&wf.Active,
		&wf.OwnerID,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return wf, nil
}

// Definition loads and parses a workflow's definition, cache-aside. The
// workflow_id column is stamped onto the parsed form so definitions whose
// JSON carries no id (or a stale one) still resolve correctly.
func (r *WorkflowRepository) Definition(ctx context.Context, workflowID string) (*sdk.WorkflowDefinition, error) {
	key := definitionKey(workflowID)

	if r.cache != nil {
		if raw, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			if def, perr := sdk.ParseDefinition(raw); perr == nil {
				def.WorkflowID = workflowID
				return def, nil
			}
			// Undecodable cache entry: drop it and fall through to Postgres.
			_ = r.cache.Delete(ctx, key)
		}
	}

	wf, err := r.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	def, err := sdk.ParseDefinition(wf.Definition)
	if err != nil {
		return nil, fmt.Errorf("workflow %s has an invalid definition: %w", workflowID, err)
	}
	def.WorkflowID = workflowID

	if r.cache != nil {
		_ = r.cache.Set(ctx, key, wf.Definition, definitionTTL)
	}

	return def, nil
}

// Update replaces a workflow's name and definition
func (r *WorkflowRepository) Update(ctx context.Context, wf *models.Workflow) error {
	query := `
		UPDATE workflow
		SET name = $2, definition = $3, updated_at = $4
		WHERE workflow_id = $1
	`

	result, err := r.db.Exec(ctx, query, wf.WorkflowID, wf.Name, wf.Definition, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", wf.WorkflowID, ErrNotFound)
	}

	r.invalidate(ctx, wf.WorkflowID)
	return nil
}

// SetActive toggles a workflow's active flag
func (r *WorkflowRepository) SetActive(ctx context.Context, workflowID string, active bool) error {
	query := `
		UPDATE workflow
		SET active = $2, updated_at = $3
		WHERE workflow_id = $1
	`

	result, err := r.db.Exec(ctx, query, workflowID, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set workflow active flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}

	return nil
}

// ListByOwner retrieves workflows owned by a user, newest first
func (r *WorkflowRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Workflow, error) {
	query := `
		SELECT workflow_id, name, definition, active, owner_id, created_at, updated_at
		FROM workflow
		WHERE owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

// ListActive retrieves all active workflows. The trigger manager walks this
// at startup to re-register persistent workflows.
func (r *WorkflowRepository) ListActive(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT workflow_id, name, definition, active, owner_id, created_at, updated_at
		FROM workflow
		WHERE active = TRUE
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active workflows: %w", err)
	}
	defer rows.Close()

	return scanWorkflows(rows)
}

// Delete removes a workflow
func (r *WorkflowRepository) Delete(ctx context.Context, workflowID string) error {
	query := `DELETE FROM workflow WHERE workflow_id = $1`

	result, err := r.db.Exec(ctx, query, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}

	r.invalidate(ctx, workflowID)
	return nil
}

// invalidate drops the cached definition. Cache errors are swallowed: the
// TTL bounds staleness and the database row is authoritative.
func (r *WorkflowRepository) invalidate(ctx context.Context, workflowID string) {
	if r.cache != nil {
		_ = r.cache.Delete(ctx, definitionKey(workflowID))
	}
}

func scanWorkflows(rows pgx.Rows) ([]*models.Workflow, error) {
	var workflows []*models.Workflow
	for rows.Next() {
		wf := &models.Workflow{}
		err := rows.Scan(
			&wf.WorkflowID,
			&wf.Name,
			&wf.Definition,
			&wf.Active,
			&wf.OwnerID,
			&wf.CreatedAt,
			&wf.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}
