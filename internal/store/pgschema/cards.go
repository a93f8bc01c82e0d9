package pgschema

import (
	"fmt"
	"strings"

	"github.com/jensholdgaard/cardmarket/internal/store"
	"github.com/jensholdgaard/cardmarket/internal/textnorm"
)

// CardColumns lists the cards columns in store.Card field order.
const CardColumns = `id, name, type, description, race, archetype, image, version, created_at, updated_at, deleted_at`

// Card statements.
const (
	InsertCard = `INSERT INTO cards (name, type, description, race, archetype, image, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
		RETURNING id`

	SelectCardByID = `SELECT ` + CardColumns + ` FROM cards WHERE id = $1 AND deleted_at IS NULL`

	UpdateCard = `UPDATE cards
		SET name = $1, type = $2, description = $3, race = $4, archetype = $5, image = $6,
		    version = version + 1, updated_at = $7
		WHERE id = $8 AND deleted_at IS NULL AND version = $9`

	// CardExists reports whether an active card with id exists.
	CardExists = `SELECT EXISTS (SELECT 1 FROM cards WHERE id = $1 AND deleted_at IS NULL)`

	SoftDeleteCard = `UPDATE cards SET deleted_at = $1, version = version + 1
		WHERE id = $2 AND deleted_at IS NULL`

	// SoftDeleteCardListings cascades a card soft delete to its records.
	SoftDeleteCardListings = `UPDATE listings SET deleted_at = $1
		WHERE card_id = $2 AND deleted_at IS NULL`

	SelectAllCards = `SELECT ` + CardColumns + ` FROM cards WHERE deleted_at IS NULL ORDER BY id ASC`

	SelectCardsByArchetype = `SELECT ` + CardColumns + ` FROM cards
		WHERE deleted_at IS NULL AND archetype = $1 ORDER BY id ASC`

	// SelectRandomCardsExcluding includes cards without an archetype.
	SelectRandomCardsExcluding = `SELECT ` + CardColumns + ` FROM cards
		WHERE deleted_at IS NULL AND archetype IS DISTINCT FROM $1
		ORDER BY random() LIMIT $2`

	CardNameExists = `SELECT EXISTS (SELECT 1 FROM cards WHERE name = $1 AND deleted_at IS NULL)`
)

// CardWhere builds the WHERE body for f. Placeholders start at $next. Each
// filter value is matched as an escaped substring of the folded column, with
// both sides folded by the same lower(unaccent()) expression.
func CardWhere(f store.CardFilter, next int) (string, []any) {
	clauses := []string{"deleted_at IS NULL"}
	var args []any
	add := func(col, v string) {
		if v == "" {
			return
		}
		clauses = append(clauses,
			fmt.Sprintf(`lower(unaccent(%s)) LIKE '%%' || lower(unaccent($%d)) || '%%' ESCAPE '\'`, col, next))
		args = append(args, textnorm.EscapeLike(v))
		next++
	}
	add("name", f.Name)
	add("type", f.Type)
	add("coalesce(archetype, '')", f.Archetype)
	return strings.Join(clauses, " AND "), args
}

// CountCards returns the count statement for f.
func CountCards(f store.CardFilter) (string, []any) {
	where, args := CardWhere(f, 1)
	return `SELECT count(*) FROM cards WHERE ` + where, args
}

// SearchCards returns the windowed search statement for f.
func SearchCards(f store.CardFilter, offset, limit int) (string, []any) {
	where, args := CardWhere(f, 1)
	n := len(args)
	q := fmt.Sprintf(`SELECT %s FROM cards WHERE %s ORDER BY id ASC OFFSET $%d LIMIT $%d`,
		CardColumns, where, n+1, n+2)
	return q, append(args, offset, limit)
}

// CardDest returns scan destinations for CardColumns.
func CardDest(c *store.Card) []any {
	return []any{
		&c.ID, &c.Name, &c.Type, &c.Description, &c.Race, &c.Archetype, &c.Image,
		&c.Version, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	}
}
