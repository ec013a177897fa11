package postgres

import (
	"context"
	"fmt"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/repository"
)

type failureRepository struct {
	BaseRepository
}

func NewFailureRepository(base BaseRepository) repository.FailureRepository {
	return &failureRepository{base}
}

func (r *failureRepository) Insert(ctx context.Context, failure *model.EventFailure) error {
	query := `
		INSERT INTO event_failures (topic, event_type, payload, error_message, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := r.db.ExecContext(ctx, query,
		failure.Topic, failure.EventType, failure.Payload, failure.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to record event failure: %w", err)
	}
	return nil
}
