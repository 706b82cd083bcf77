package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/justinchat/justinchat/internal/domain/models"
)

type CallRepository interface {
	CreateCall(ctx context.Context, call *models.Call) error

	// GetRingingCall finds the not-yet-ended call scoped to a calling room.
	GetRingingCall(ctx context.Context, callingID string) (*models.Call, error)

	// EndCall stamps ended_at on every open call in a calling room and
	// reports how many rows it closed.
	EndCall(ctx context.Context, callingID string) (int64, error)

	// ListByUser returns the user's call history, most recent first.
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Call, error)
}

type callRepo struct {
	db *sqlx.DB
}

func NewCallRepo(db *sqlx.DB) CallRepository {
	return &callRepo{db: db}
}

func (r *callRepo) CreateCall(ctx context.Context, call *models.Call) error {
	query := `INSERT INTO calls (id, calling_id, caller_id, callee_id, started_at)
	          VALUES ($1, $2, $3, $4, $5)`

	res, err := r.db.ExecContext(ctx, query, call.ID, call.CallingID, call.CallerID, call.CalleeID, call.StartedAt)
	if err != nil {
		return fmt.Errorf("create call: %w", err)
	}

	if aff, err := res.RowsAffected(); aff == 0 || err != nil {
		return fmt.Errorf("create call no rows affected: %w", err)
	}

	return nil
}

func (r *callRepo) GetRingingCall(ctx context.Context, callingID string) (*models.Call, error) {
	var call models.Call

	query := `SELECT id, calling_id, caller_id, callee_id, started_at, ended_at
	          FROM calls
	          WHERE calling_id = $1 AND ended_at IS NULL
	          ORDER BY started_at DESC
	          LIMIT 1`

	if err := r.db.GetContext(ctx, &call, query, callingID); err != nil {
		return nil, err
	}

	return &call, nil
}

func (r *callRepo) EndCall(ctx context.Context, callingID string) (int64, error) {
	query := "UPDATE calls SET ended_at = now() WHERE calling_id = $1 AND ended_at IS NULL"

	res, err := r.db.ExecContext(ctx, query, callingID)
	if err != nil {
		return 0, fmt.Errorf("end call: %w", err)
	}

	aff, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("end call rows affected: %w", err)
	}

	return aff, nil
}

func (r *callRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Call, error) {
	calls := make([]models.Call, 0, limit)

	query := `SELECT id, calling_id, caller_id, callee_id, started_at, ended_at
	          FROM calls
	          WHERE caller_id = $1 OR callee_id = $1
	          ORDER BY started_at DESC
	          LIMIT $2`

	if err := r.db.SelectContext(ctx, &calls, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}

	return calls, nil
}
