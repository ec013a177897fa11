package ranking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jwalitptl/ranking-api/internal/model"
	"github.com/jwalitptl/ranking-api/internal/ranking"
	"github.com/jwalitptl/ranking-api/internal/repository"
	apperrors "github.com/jwalitptl/ranking-api/pkg/errors"
	"github.com/jwalitptl/ranking-api/pkg/logger"
)

// Entry is one resolved row of a ranking page.
type Entry struct {
	Rank  int                `json:"rank"`
	Score float64            `json:"score"`
	Item  *model.CatalogItem `json:"item"`
}

// Page is a uniform paginated result regardless of which store served it.
type Page struct {
	Window     ranking.Window `json:"window"`
	Bucket     string         `json:"bucket"`
	PageNumber int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalCount int64          `json:"total_count"`
	Entries    []Entry        `json:"entries"`
}

// Service serves ranking pages: DAILY/HOURLY from the live store,
// WEEKLY/MONTHLY exclusively from the durable rollup tables.
type Service struct {
	store       ranking.Store
	rollupRepo  repository.RollupRepository
	catalogRepo repository.CatalogRepository
	scope       string
	cache       *gocache.Cache
	logger      *logger.Logger
}

func NewService(
	store ranking.Store,
	rollupRepo repository.RollupRepository,
	catalogRepo repository.CatalogRepository,
	scope string,
	logger *logger.Logger,
) *Service {
	if scope == "" {
		scope = ranking.DefaultScope
	}
	return &Service{
		store:       store,
		rollupRepo:  rollupRepo,
		catalogRepo: catalogRepo,
		scope:       scope,
		cache:       gocache.New(time.Minute, 5*time.Minute),
		logger:      logger,
	}
}

// GetPage returns one page of the ranking for the window covering at. Page
// numbers are 1-based. Entries whose catalog item can no longer be resolved
// are dropped from the page rather than failing it.
func (s *Service) GetPage(ctx context.Context, window ranking.Window, at time.Time, page, pageSize int) (*Page, error) {
	if page < 1 {
		return nil, apperrors.BadRequest("page must be >= 1", nil)
	}
	if pageSize < 1 {
		return nil, apperrors.BadRequest("page size must be > 0", nil)
	}

	key := ranking.NewKey(s.scope, window, at)
	offset := (page - 1) * pageSize

	var rankings []ranking.Ranking
	var total int64
	var bucket string
	var err error

	if window.Live() {
		rankings, total, err = s.livePage(ctx, key, offset, pageSize)
		bucket = key.Bucket()
	} else {
		rankings, total, bucket, err = s.rollupPage(ctx, key, offset, pageSize)
	}
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rankings))
	for _, r := range rankings {
		item, ok := s.resolveItem(ctx, r.ItemID)
		if !ok {
			s.logger.Debug("dropping unresolvable ranking entry", "item_id", r.ItemID)
			continue
		}
		entries = append(entries, Entry{Rank: r.Rank, Score: r.Score, Item: item})
	}

	return &Page{
		Window:     window,
		Bucket:     bucket,
		PageNumber: page,
		PageSize:   pageSize,
		TotalCount: total,
		Entries:    entries,
	}, nil
}

func (s *Service) livePage(ctx context.Context, key ranking.Key, offset, pageSize int) ([]ranking.Ranking, int64, error) {
	rankings, err := s.store.TopN(ctx, key, int64(offset), int64(offset+pageSize-1))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read live ranking page: %w", err)
	}
	total, err := s.store.Count(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count live ranking: %w", err)
	}
	return rankings, total, nil
}

func (s *Service) rollupPage(ctx context.Context, key ranking.Key, offset, pageSize int) ([]ranking.Ranking, int64, string, error) {
	period, err := key.Period()
	if err != nil {
		return nil, 0, "", apperrors.BadRequest("invalid ranking window", err)
	}
	rows, err := s.rollupRepo.GetPage(ctx, string(key.Window), period, offset, pageSize)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to read rollup page: %w", err)
	}
	total, err := s.rollupRepo.CountForPeriod(ctx, string(key.Window), period)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to count rollup rows: %w", err)
	}
	rankings := make([]ranking.Ranking, 0, len(rows))
	for _, row := range rows {
		rankings = append(rankings, ranking.Ranking{ItemID: row.ItemID, Score: row.Score, Rank: row.Rank})
	}
	return rankings, total, period, nil
}

// cacheResult is the tagged outcome of a catalog cache probe. Errors are
// explicit so a lookup failure is never mistaken for a deleted item.
type cacheResult struct {
	kind cacheResultKind
	item *model.CatalogItem
	err  error
}

type cacheResultKind int

const (
	cacheHit cacheResultKind = iota
	cacheMiss
	cacheNegative // item known to be gone
)

func (s *Service) probeCache(itemID int64) cacheResult {
	v, found := s.cache.Get(strconv.FormatInt(itemID, 10))
	if !found {
		return cacheResult{kind: cacheMiss}
	}
	if v == nil {
		return cacheResult{kind: cacheNegative}
	}
	item, ok := v.(*model.CatalogItem)
	if !ok {
		return cacheResult{kind: cacheMiss, err: fmt.Errorf("unexpected cache value %T", v)}
	}
	return cacheResult{kind: cacheHit, item: item}
}

// resolveItem looks the item up cache-aside. The single dispatch site below
// is the only consumer of cacheResult.
func (s *Service) resolveItem(ctx context.Context, itemID int64) (*model.CatalogItem, bool) {
	switch result := s.probeCache(itemID); result.kind {
	case cacheHit:
		return result.item, true
	case cacheNegative:
		return nil, false
	}

	item, err := s.catalogRepo.GetItem(ctx, itemID)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.ErrNotFound {
			s.cache.Set(strconv.FormatInt(itemID, 10), nil, gocache.DefaultExpiration)
			return nil, false
		}
		// Infrastructure failure: drop the entry for this page but do not
		// cache the absence.
		s.logger.Error(err, "catalog lookup failed", "item_id", itemID)
		return nil, false
	}
	s.cache.Set(strconv.FormatInt(itemID, 10), item, gocache.DefaultExpiration)
	return item, true
}
