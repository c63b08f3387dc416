package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/careops/dispatch/delivery"
	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
)

// deliveryModel is the JSON representation stored in Redis.
type deliveryModel struct {
	ID              string            `json:"id"`
	SubscriptionID  string            `json:"subscription_id"`
	EventID         string            `json:"event_id"`
	EventName       string            `json:"event_name"`
	State           string            `json:"state"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	ResponseStatus  int               `json:"response_status,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	RespondedAt     *time.Time        `json:"responded_at,omitempty"`
	DurationMs      int               `json:"duration_ms,omitempty"`
	RetryCount      int               `json:"retry_count"`
	MaxRetries      int               `json:"max_retries"`
	NextRetryAt     time.Time         `json:"next_retry_at"`
	Error           string            `json:"error,omitempty"`
	ErrorDetail     string            `json:"error_detail,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:              d.ID.String(),
		SubscriptionID:  d.SubscriptionID.String(),
		EventID:         d.EventID.String(),
		EventName:       d.EventName,
		State:           string(d.State),
		Payload:         d.Payload,
		RequestHeaders:  d.RequestHeaders,
		ResponseStatus:  d.ResponseStatus,
		ResponseBody:    d.ResponseBody,
		ResponseHeaders: d.ResponseHeaders,
		RespondedAt:     d.RespondedAt,
		DurationMs:      d.DurationMs,
		RetryCount:      d.RetryCount,
		MaxRetries:      d.MaxRetries,
		NextRetryAt:     d.NextRetryAt,
		Error:           d.Error,
		ErrorDetail:     d.ErrorDetail,
		CompletedAt:     d.CompletedAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	return &delivery.Delivery{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              delID,
		SubscriptionID:  subID,
		EventID:         evtID,
		EventName:       m.EventName,
		State:           delivery.State(m.State),
		Payload:         m.Payload,
		RequestHeaders:  m.RequestHeaders,
		ResponseStatus:  m.ResponseStatus,
		ResponseBody:    m.ResponseBody,
		ResponseHeaders: m.ResponseHeaders,
		RespondedAt:     m.RespondedAt,
		DurationMs:      m.DurationMs,
		RetryCount:      m.RetryCount,
		MaxRetries:      m.MaxRetries,
		NextRetryAt:     m.NextRetryAt,
		Error:           m.Error,
		ErrorDetail:     m.ErrorDetail,
		CompletedAt:     m.CompletedAt,
	}, nil
}

// dequeueScript atomically claims due deliveries from the queue sorted set.
// Removal from the set is the claim; the entity row is untouched until the
// worker writes back its result.
// KEYS[1] = dispatch:z:del:queue
// ARGV[1] = current unix timestamp (score threshold)
// ARGV[2] = limit
var dequeueScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
end
return ids
`)

func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	key := entityKey(prefixDelivery, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("dispatch/redis: enqueue delivery: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zDeliveryQueue, goredis.Z{Score: scoreFromTime(m.NextRetryAt), Member: m.ID})
	pipe.ZAdd(ctx, zDeliverySub+m.SubscriptionID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.ZAdd(ctx, zDeliveryEvt+m.EventID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: enqueue delivery indexes: %w", err)
	}
	return nil
}

func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, d := range ds {
		m := toDeliveryModel(d)
		key := entityKey(prefixDelivery, m.ID)

		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("dispatch/redis: enqueue batch marshal: %w", err)
		}
		pipe.Set(ctx, key, raw, 0)
		pipe.ZAdd(ctx, zDeliveryQueue, goredis.Z{Score: scoreFromTime(m.NextRetryAt), Member: m.ID})
		pipe.ZAdd(ctx, zDeliverySub+m.SubscriptionID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
		pipe.ZAdd(ctx, zDeliveryEvt+m.EventID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: enqueue batch: %w", err)
	}
	return nil
}

func (s *Store) Dequeue(ctx context.Context, limit int) ([]*delivery.Delivery, error) {
	nowScore := fmt.Sprintf("%f", scoreFromTime(now()))
	result, err := dequeueScript.Run(ctx, s.rdb, []string{zDeliveryQueue}, nowScore, limit).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dispatch/redis: dequeue script: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	deliveries := make([]*delivery.Delivery, 0, len(result))
	for _, entryID := range result {
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("dispatch/redis: dequeue get: %w", err)
		}

		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, nil
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = now()
	key := entityKey(prefixDelivery, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("dispatch/redis: update delivery: %w", err)
	}

	// Requeue rows that still have work left; terminal rows stay out.
	switch d.State {
	case delivery.StatePending, delivery.StateRetry:
		s.rdb.ZAdd(ctx, zDeliveryQueue, goredis.Z{Score: scoreFromTime(m.NextRetryAt), Member: m.ID})
	default:
		s.rdb.ZRem(ctx, zDeliveryQueue, m.ID)
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	var m deliveryModel
	if err := s.getEntity(ctx, entityKey(prefixDelivery, delID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("dispatch/redis: get delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

func (s *Store) ListBySubscription(ctx context.Context, subID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliverySub+subID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: list by subscription: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.State != nil && delivery.State(m.State) != *opts.State {
			continue
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	ids, err := s.rdb.ZRange(ctx, zDeliveryEvt+evtID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: list by event: %w", err)
	}

	result := make([]*delivery.Delivery, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m deliveryModel
		if err := s.getEntity(ctx, entityKey(prefixDelivery, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	return result, nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDeliveryQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("dispatch/redis: count pending: %w", err)
	}
	return count, nil
}
