package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/weftworks/weft/common/db"
	"github.com/weftworks/weft/common/models"
	"github.com/weftworks/weft/common/sdk"
)

// ExecutionRepository handles database operations for execution records.
// It is the engine's record sink: the scheduler writes through it and the
// API reads finished executions from it.
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// Create inserts the initial record for a starting execution
func (r *ExecutionRepository) Create(ctx context.Context, execution *sdk.ExecutionContext) error {
	query := `
		INSERT INTO execution (execution_id, workflow_id, execution_mode, status, started_by, started_at, node_results)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query,
		execution.ExecutionID,
		execution.WorkflowID,
		execution.ExecutionMode,
		execution.Status,
		execution.StartedBy,
		execution.StartedAt,
		[]byte("{}"),
	)

	if err != nil {
		return fmt.Errorf("failed to create execution record: %w", err)
	}

	return nil
}

// UpdateStatus records a status transition, and for terminal transitions the
// completion time and error message
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, executionID string, status sdk.ExecutionStatus, errorMessage string, completedAt *time.Time) error {
	query := `
		UPDATE execution
		SET status = $2, error = $3, completed_at = $4
		WHERE execution_id = $1
	`

	result, err := r.db.Exec(ctx, query, executionID, status, errorMessage, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}

	return nil
}

// UpdateNodeResults replaces the stored per-node outcome map
func (r *ExecutionRepository) UpdateNodeResults(ctx context.Context, executionID string, results map[string]*sdk.NodeResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode node results: %w", err)
	}

	query := `
		UPDATE execution
		SET node_results = $2
		WHERE execution_id = $1
	`

	result, err := r.db.Exec(ctx, query, executionID, data)
	if err != nil {
		return fmt.Errorf("failed to update node results: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}

	return nil
}

// Get retrieves an execution record by its ID
func (r *ExecutionRepository) Get(ctx context.Context, executionID string) (*models.Execution, error) {
	query := `
		SELECT execution_id, workflow_id, execution_mode, status, started_by, started_at, completed_at, error, node_results
		FROM execution
		WHERE execution_id = $1
	`

	exec := &models.Execution{}
	err := r.db.QueryRow(ctx, query, executionID).Scan(
		&exec.ExecutionID,
		&exec.WorkflowID,
		&exec.ExecutionMode,
		&exec.Status,
		&exec.StartedBy,
		&exec.StartedAt,
		&exec.CompletedAt,
		&exec.Error,
		&exec.NodeResults,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return exec, nil
}

// ListByWorkflow retrieves executions of a workflow, newest first
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	query := `
		SELECT execution_id, workflow_id, execution_mode, status, started_by, started_at, completed_at, error, node_results
		FROM execution
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		exec := &models.Execution{}
		err := rows.Scan(
			&exec.ExecutionID,
			&exec.WorkflowID,
			&exec.ExecutionMode,
			&exec.Status,
			&exec.StartedBy,
			&exec.StartedAt,
			&exec.CompletedAt,
			&exec.Error,
			&exec.NodeResults,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}
