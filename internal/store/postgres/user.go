package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/cardmarket/internal/clock"
	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/store/pgschema"
)

// UserRepo implements store.UserRepository with sqlx.
type UserRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewUserRepo returns a new UserRepo.
func NewUserRepo(db *sqlx.DB, clk clock.Clock) *UserRepo {
	return &UserRepo{db: db, clock: clk}
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*store.User, error) {
	var u store.User
	if err := r.db.GetContext(ctx, &u, pgschema.SelectUserByID, id); err != nil {
		return nil, pgschema.Classify(fmt.Sprintf("getting user %d", id), err)
	}
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, u *store.User) error {
	u.CreatedAt = r.clock.Now().UTC()
	if err := r.db.QueryRowContext(ctx, pgschema.InsertUser, u.Username, u.Email, u.CreatedAt).Scan(&u.ID); err != nil {
		return pgschema.Classify("creating user", err)
	}
	return nil
}
