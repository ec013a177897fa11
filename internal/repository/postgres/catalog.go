package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/repository"
	apperrors "github.com/jwalitptl/ranking-api/pkg/errors"
)

type catalogRepository struct {
	BaseRepository
}

func NewCatalogRepository(base BaseRepository) repository.CatalogRepository {
	return &catalogRepository{base}
}

func (r *catalogRepository) GetItem(ctx context.Context, itemID int64) (*model.CatalogItem, error) {
	query := `
		SELECT item_id, name, price, status
		FROM catalog_items
		WHERE item_id = $1 AND status = 'ACTIVE'
	`
	var item model.CatalogItem
	err := r.db.GetContext(ctx, &item, query, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("catalog item", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog item %d: %w", itemID, err)
	}
	return &item, nil
}
