package store

import (
	"context"
	"fmt"
	"strings"

	"chatterfix/types"

	"github.com/uptrace/bun"
)

type PartFilter struct {
	LowStockOnly bool
	Location     string
	Query        string
	Limit        int
	Offset       int
}

func (s *Store) CreatePart(ctx context.Context, p *types.Part) error {
	p.PartNumber = strings.TrimSpace(p.PartNumber)
	if err := p.Validate(); err != nil {
		return err
	}
	now := s.now()
	p.ID = 0
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.NewInsert().Model(p).Exec(ctx)
	return MapDBError(err)
}

func (s *Store) GetPart(ctx context.Context, id int64) (*types.Part, error) {
	return getPart(ctx, s.db, id)
}

func getPart(ctx context.Context, db bun.IDB, id int64) (*types.Part, error) {
	p := new(types.Part)
	if err := db.NewSelect().Model(p).Where("p.id = ?", id).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return p, nil
}

func (s *Store) ListParts(ctx context.Context, f PartFilter) ([]types.Part, int, error) {
	limit, offset := normalizePage(f.Limit, f.Offset)
	var items []types.Part
	q := s.db.NewSelect().Model(&items)
	if f.LowStockOnly {
		q = q.Where("p.quantity <= p.min_quantity")
	}
	if f.Location != "" {
		q = q.Where("p.location = ?", f.Location)
	}
	if strings.TrimSpace(f.Query) != "" {
		pattern := likePattern(f.Query)
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(p.name) LIKE ? ESCAPE '!'", pattern).WhereOr("LOWER(p.part_number) LIKE ? ESCAPE '!'", pattern)
		})
	}

	total, err := q.OrderExpr("p.part_number ASC").Limit(limit).Offset(offset).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, MapDBError(err)
	}
	if items == nil {
		items = []types.Part{}
	}
	return items, total, nil
}

// ListLowStockParts returns every part at or below its reorder point.
func (s *Store) ListLowStockParts(ctx context.Context) ([]types.Part, error) {
	items, _, err := s.ListParts(ctx, PartFilter{LowStockOnly: true, Limit: 500})
	return items, err
}

func (s *Store) UpdatePart(ctx context.Context, p *types.Part) error {
	p.PartNumber = strings.TrimSpace(p.PartNumber)
	if err := p.Validate(); err != nil {
		return err
	}
	existing, err := s.GetPart(ctx, p.ID)
	if err != nil {
		return err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now()
	return checkAffected(s.db.NewUpdate().Model(p).WherePK().Exec(ctx))
}

func (s *Store) DeletePart(ctx context.Context, id int64) error {
	return checkAffected(s.db.NewDelete().Model((*types.Part)(nil)).Where("id = ?", id).Exec(ctx))
}

// AdjustPartQuantity adds delta (negative to consume) to the on-hand quantity.
// Stock never goes below zero.
func (s *Store) AdjustPartQuantity(ctx context.Context, id int64, delta int) (*types.Part, error) {
	var part *types.Part
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		part, err = getPart(ctx, tx, id)
		if err != nil {
			return err
		}
		if part.Quantity+delta < 0 {
			return fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, part.PartNumber, part.Quantity, -delta)
		}
		part.Quantity += delta
		part.UpdatedAt = s.now()
		return checkAffected(tx.NewUpdate().Model(part).Column("quantity", "updated_at").WherePK().Exec(ctx))
	})
	if err != nil {
		return nil, err
	}
	return part, nil
}
