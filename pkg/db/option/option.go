package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// QueryOption mutates a query before it is executed by the repository.
type QueryOption func(*gorm.DB) *gorm.DB

type QuerySortBy struct {
	Field   string
	OrderBy string // ASC | DESC
}

// AfterID is keyset paging over the primary key. Ids are snowflakes
// rendered as fixed-width strings, so lexical order follows creation order.
func AfterID(id string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if id != "" {
			db = db.Where("id > ?", id)
		}
		return db.Order("id ASC")
	}
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		field := s.Field
		if field == "" {
			field = "created_at"
		}
		dir := "ASC"
		if strings.EqualFold(s.OrderBy, "DESC") {
			dir = "DESC"
		}
		return db.Order(fmt.Sprintf("%s %s", field, dir))
	}
}

func WithWhere(query any, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(limit)
	}
}
