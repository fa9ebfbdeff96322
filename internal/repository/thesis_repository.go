package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/thesis-track-api/internal/models"
)

const thesisColumns = `id, title, abstract, keywords, file_name, file_original_name, file_path,
       file_mime_type, file_size_bytes, scholar_id, guide_id, status, current_stage, approvals,
       created_at, updated_at`

// ThesisRepository persists thesis records and workflow state.
type ThesisRepository struct {
	db *sqlx.DB
}

// NewThesisRepository constructs the repository.
func NewThesisRepository(db *sqlx.DB) *ThesisRepository {
	return &ThesisRepository{db: db}
}

// Create inserts a new thesis in its initial workflow state.
func (r *ThesisRepository) Create(ctx context.Context, thesis *models.Thesis) error {
	if thesis.ID == "" {
		thesis.ID = uuid.NewString()
	}
	if thesis.Status == "" {
		thesis.Status = models.StatusSubmitted
	}
	if thesis.CurrentStage == "" {
		thesis.CurrentStage = models.StageGuide
	}
	if thesis.Approvals == nil {
		thesis.Approvals = models.ApprovalSet{}
	}
	now := time.Now().UTC()
	if thesis.CreatedAt.IsZero() {
		thesis.CreatedAt = now
	}
	thesis.UpdatedAt = now

	const query = `INSERT INTO theses
	(id, title, abstract, keywords, file_name, file_original_name, file_path, file_mime_type,
	 file_size_bytes, scholar_id, guide_id, status, current_stage, approvals, created_at, updated_at)
	VALUES (:id, :title, :abstract, :keywords, :file_name, :file_original_name, :file_path, :file_mime_type,
	 :file_size_bytes, :scholar_id, :guide_id, :status, :current_stage, :approvals, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, thesis); err != nil {
		return fmt.Errorf("create thesis: %w", err)
	}
	return nil
}

// GetByID fetches a thesis by identifier.
func (r *ThesisRepository) GetByID(ctx context.Context, id string) (*models.Thesis, error) {
	query := fmt.Sprintf(`SELECT %s FROM theses WHERE id = $1`, thesisColumns)
	var thesis models.Thesis
	if err := r.db.GetContext(ctx, &thesis, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get thesis: %w", err)
	}
	return &thesis, nil
}

// List returns theses matching the filter (latest first).
func (r *ThesisRepository) List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM theses`, thesisColumns))

	conditions := make([]string, 0, 4)
	if filter.ScholarID != "" {
		args = append(args, filter.ScholarID)
		conditions = append(conditions, fmt.Sprintf("scholar_id = $%d", len(args)))
	}
	if filter.GuideID != "" {
		args = append(args, filter.GuideID)
		conditions = append(conditions, fmt.Sprintf("guide_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.RequireGuideApproval {
		// Registrar worklists only admit theses whose guide pass is an
		// approval on record, not a re-approval that skipped the guide slot.
		conditions = append(conditions, `approvals -> 'guide' ->> 'decision' = 'approved'`)
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var theses []models.Thesis
	if err := r.db.SelectContext(ctx, &theses, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list theses: %w", err)
	}
	return theses, nil
}

// TransitionParams groups the state change written by a review decision.
type TransitionParams struct {
	ID             string
	ExpectedStatus models.ThesisStatus
	ExpectedStage  models.ThesisStage
	NewStatus      models.ThesisStatus
	NewStage       models.ThesisStage
	Approvals      models.ApprovalSet
	UpdatedAt      time.Time
}

// UpdateTransition applies a workflow transition conditionally. The update is
// filtered on the expected status and stage, so a concurrent reviewer who got
// there first leaves zero rows affected and the caller sees sql.ErrNoRows.
func (r *ThesisRepository) UpdateTransition(ctx context.Context, params TransitionParams) error {
	const query = `UPDATE theses
	SET status = :new_status, current_stage = :new_stage, approvals = :approvals, updated_at = :updated_at
	WHERE id = :id AND status = :expected_status AND current_stage = :expected_stage`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":              params.ID,
		"expected_status": params.ExpectedStatus,
		"expected_stage":  params.ExpectedStage,
		"new_status":      params.NewStatus,
		"new_stage":       params.NewStage,
		"approvals":       params.Approvals,
		"updated_at":      params.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("update thesis transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check thesis transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
