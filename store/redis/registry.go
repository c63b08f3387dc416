package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
	"github.com/careops/dispatch/registry"
)

// eventTypeModel is the JSON representation stored in Redis.
type eventTypeModel struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Schema      json.RawMessage   `json:"schema,omitempty"`
	Version     string            `json:"version"`
	Example     json.RawMessage   `json:"example,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toEventTypeModel(et *registry.Event) *eventTypeModel {
	return &eventTypeModel{
		ID:          et.ID.String(),
		Name:        et.Definition.Name,
		Description: et.Definition.Description,
		Category:    et.Definition.Category,
		Schema:      et.Definition.Schema,
		Version:     et.Definition.Version,
		Example:     et.Definition.Example,
		Metadata:    et.Metadata,
		CreatedAt:   et.CreatedAt,
		UpdatedAt:   et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*registry.Event, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}
	return &registry.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID: etID,
		Definition: registry.Definition{
			Name:        m.Name,
			Description: m.Description,
			Category:    m.Category,
			Schema:      m.Schema,
			Version:     m.Version,
			Example:     m.Example,
		},
		Metadata: m.Metadata,
	}, nil
}

func (s *Store) RegisterEventType(ctx context.Context, et *registry.Event) error {
	m := toEventTypeModel(et)
	key := entityKey(prefixEventType, m.ID)

	// The registry is append-only. SET NX on the name index rejects a
	// second registration of the same name.
	ok, err := s.rdb.SetNX(ctx, uniqueEventTypeName+m.Name, m.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("dispatch/redis: register type name claim: %w", err)
	}
	if !ok {
		return registry.ErrExists
	}

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("dispatch/redis: register type: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zEventTypeAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if m.Category != "" {
		pipe.ZAdd(ctx, zEventTypeCat+m.Category, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: register type indexes: %w", err)
	}
	return nil
}

func (s *Store) GetEventType(ctx context.Context, name string) (*registry.Event, error) {
	entryID, err := s.rdb.Get(ctx, uniqueEventTypeName+name).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, registry.ErrNotFound
		}
		return nil, fmt.Errorf("dispatch/redis: get type lookup: %w", err)
	}

	var m eventTypeModel
	if err := s.getEntity(ctx, entityKey(prefixEventType, entryID), &m); err != nil {
		if isNotFound(err) {
			return nil, registry.ErrNotFound
		}
		return nil, fmt.Errorf("dispatch/redis: get type: %w", err)
	}
	return fromEventTypeModel(&m)
}

func (s *Store) ListEventTypes(ctx context.Context, opts registry.ListOpts) ([]*registry.Event, error) {
	zKey := zEventTypeAll
	if opts.Category != "" {
		zKey = zEventTypeCat + opts.Category
	}

	ids, err := s.rdb.ZRange(ctx, zKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: list types: %w", err)
	}

	result := make([]*registry.Event, 0, len(ids))
	for _, entryID := range ids {
		var m eventTypeModel
		if err := s.getEntity(ctx, entityKey(prefixEventType, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		et, err := fromEventTypeModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, et)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Definition.Category != result[j].Definition.Category {
			return result[i].Definition.Category < result[j].Definition.Category
		}
		return result[i].Definition.Name < result[j].Definition.Name
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}
