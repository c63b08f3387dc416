package dispatch

import "github.com/careops/dispatch/internal/entity"

// Entity is the base type embedded by all dispatch domain objects.
type Entity = entity.Entity

// NewEntity returns an Entity with both timestamps set to the current UTC time.
func NewEntity() Entity {
	return entity.New()
}
