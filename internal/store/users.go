package store

import (
	"context"
	"strings"

	"chatterfix/types"
)

func (s *Store) CreateUser(ctx context.Context, u *types.User) error {
	u.Username = strings.TrimSpace(u.Username)
	if err := u.Validate(); err != nil {
		return err
	}
	u.ID = 0
	u.CreatedAt = s.now()

	_, err := s.db.NewInsert().Model(u).Exec(ctx)
	return MapDBError(err)
}

func (s *Store) GetUser(ctx context.Context, id int64) (*types.User, error) {
	u := new(types.User)
	if err := s.db.NewSelect().Model(u).Where("u.id = ?", id).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	u := new(types.User)
	if err := s.db.NewSelect().Model(u).Where("u.username = ?", strings.TrimSpace(username)).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]types.User, error) {
	var users []types.User
	if err := s.db.NewSelect().Model(&users).OrderExpr("u.username ASC").Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	if users == nil {
		users = []types.User{}
	}
	return users, nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*types.User)(nil)).Count(ctx)
	return n, MapDBError(err)
}

// UpdateUser persists profile, role, active flag and password hash.
func (s *Store) UpdateUser(ctx context.Context, u *types.User) error {
	u.Username = strings.TrimSpace(u.Username)
	if err := u.Validate(); err != nil {
		return err
	}
	return checkAffected(s.db.NewUpdate().Model(u).
		Column("username", "email", "full_name", "role", "password_hash", "active").
		WherePK().
		Exec(ctx))
}

func (s *Store) TouchLastLogin(ctx context.Context, id int64) error {
	return checkAffected(s.db.NewUpdate().Model((*types.User)(nil)).
		Set("last_login = ?", s.now()).
		Where("id = ?", id).
		Exec(ctx))
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return checkAffected(s.db.NewDelete().Model((*types.User)(nil)).Where("id = ?", id).Exec(ctx))
}
