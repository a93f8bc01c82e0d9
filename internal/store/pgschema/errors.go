package pgschema

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/jensholdgaard/cardmarket/internal/store"
)

// Postgres SQLSTATE codes mapped onto store errors.
const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
	codeNumericOverflow     = "22003"
)

// Classify translates driver errors into the store error taxonomy and wraps
// everything else as an *store.OpError for op.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: referenced row missing (%s): %w", op, pqErr.Constraint, store.ErrNotFound)
		case codeUniqueViolation:
			return fmt.Errorf("%s: duplicate (%s): %w", op, pqErr.Constraint, store.ErrConflict)
		case codeCheckViolation:
			return store.Invalid(pqErr.Constraint, pqErr.Message)
		case codeNumericOverflow:
			return store.Invalid("price", "out of range")
		}
	}
	return store.WrapOp(op, err)
}
