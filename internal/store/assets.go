package store

import (
	"context"
	"fmt"
	"strings"

	"chatterfix/types"

	"github.com/uptrace/bun"
)

type AssetFilter struct {
	Status   types.AssetStatus
	Category string
	Location string
	Query    string
	Limit    int
	Offset   int
}

func (s *Store) CreateAsset(ctx context.Context, a *types.Asset) error {
	a.ApplyDefaults()
	if err := a.Validate(); err != nil {
		return err
	}
	now := s.now()
	a.ID = 0
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.NewInsert().Model(a).Exec(ctx)
	return MapDBError(err)
}

func (s *Store) GetAsset(ctx context.Context, id int64) (*types.Asset, error) {
	a := new(types.Asset)
	if err := s.db.NewSelect().Model(a).Where("a.id = ?", id).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return a, nil
}

func (s *Store) ListAssets(ctx context.Context, f AssetFilter) ([]types.Asset, int, error) {
	limit, offset := normalizePage(f.Limit, f.Offset)
	var items []types.Asset
	q := s.db.NewSelect().Model(&items)
	if f.Status != "" {
		q = q.Where("a.status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("a.category = ?", f.Category)
	}
	if f.Location != "" {
		q = q.Where("a.location = ?", f.Location)
	}
	if strings.TrimSpace(f.Query) != "" {
		pattern := likePattern(f.Query)
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(a.name) LIKE ? ESCAPE '!'", pattern).WhereOr("LOWER(a.asset_tag) LIKE ? ESCAPE '!'", pattern)
		})
	}

	total, err := q.OrderExpr("a.name ASC").Limit(limit).Offset(offset).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, MapDBError(err)
	}
	if items == nil {
		items = []types.Asset{}
	}
	return items, total, nil
}

func (s *Store) UpdateAsset(ctx context.Context, a *types.Asset) error {
	a.ApplyDefaults()
	if err := a.Validate(); err != nil {
		return err
	}
	existing, err := s.GetAsset(ctx, a.ID)
	if err != nil {
		return err
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = s.now()
	return checkAffected(s.db.NewUpdate().Model(a).WherePK().Exec(ctx))
}

// SetAssetStatus changes only the status column.
func (s *Store) SetAssetStatus(ctx context.Context, id int64, status types.AssetStatus) error {
	if !status.Valid() {
		return types.ValidationErrors{"status": fmt.Sprintf("unknown status %q", status)}
	}
	return checkAffected(s.db.NewUpdate().Model((*types.Asset)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Exec(ctx))
}

// DeleteAsset removes an asset that no maintenance schedule references.
// Work orders keep their asset_id so history survives the deletion.
func (s *Store) DeleteAsset(ctx context.Context, id int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		used, err := tx.NewSelect().Model((*types.MaintenanceSchedule)(nil)).Where("asset_id = ?", id).Exists(ctx)
		if err != nil {
			return MapDBError(err)
		}
		if used {
			return fmt.Errorf("%w: asset %d", ErrInUse, id)
		}
		return checkAffected(tx.NewDelete().Model((*types.Asset)(nil)).Where("id = ?", id).Exec(ctx))
	})
}
