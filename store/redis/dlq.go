package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/careops/dispatch/delivery"
	"github.com/careops/dispatch/dlq"
	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
)

// dlqEntryModel is the JSON representation stored in Redis.
type dlqEntryModel struct {
	ID             string          `json:"id"`
	DeliveryID     string          `json:"delivery_id"`
	EventID        string          `json:"event_id"`
	SubscriptionID string          `json:"subscription_id"`
	EventName      string          `json:"event_name"`
	SubscriberID   string          `json:"subscriber_id,omitempty"`
	EndpointURL    string          `json:"endpoint_url,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          string          `json:"error"`
	RetryCount     int             `json:"retry_count"`
	LastStatusCode int             `json:"last_status_code,omitempty"`
	ReplayedAt     *time.Time      `json:"replayed_at,omitempty"`
	FailedAt       time.Time       `json:"failed_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:             e.ID.String(),
		DeliveryID:     e.DeliveryID.String(),
		EventID:        e.EventID.String(),
		SubscriptionID: e.SubscriptionID.String(),
		EventName:      e.EventName,
		SubscriberID:   e.SubscriberID,
		EndpointURL:    e.EndpointURL,
		Payload:        e.Payload,
		Error:          e.Error,
		RetryCount:     e.RetryCount,
		LastStatusCode: e.LastStatusCode,
		ReplayedAt:     e.ReplayedAt,
		FailedAt:       e.FailedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse DLQ ID %q: %w", m.ID, err)
	}
	delID, err := id.ParseDeliveryID(m.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.DeliveryID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             dlqID,
		DeliveryID:     delID,
		EventID:        evtID,
		SubscriptionID: subID,
		EventName:      m.EventName,
		SubscriberID:   m.SubscriberID,
		EndpointURL:    m.EndpointURL,
		Payload:        m.Payload,
		Error:          m.Error,
		RetryCount:     m.RetryCount,
		LastStatusCode: m.LastStatusCode,
		ReplayedAt:     m.ReplayedAt,
		FailedAt:       m.FailedAt,
	}, nil
}

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	key := entityKey(prefixDLQ, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("dispatch/redis: push dlq: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zDLQAll, goredis.Z{Score: scoreFromTime(m.FailedAt), Member: m.ID})
	if m.SubscriberID != "" {
		pipe.ZAdd(ctx, zDLQSubscriber+m.SubscriberID, goredis.Z{Score: scoreFromTime(m.FailedAt), Member: m.ID})
	}
	if m.SubscriptionID != "" {
		pipe.ZAdd(ctx, zDLQSubscription+m.SubscriptionID, goredis.Z{Score: scoreFromTime(m.FailedAt), Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: push dlq indexes: %w", err)
	}
	return nil
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	zKey := zDLQAll
	if opts.SubscriberID != "" {
		zKey = zDLQSubscriber + opts.SubscriberID
	}
	if opts.SubscriptionID != nil {
		zKey = zDLQSubscription + opts.SubscriptionID.String()
	}

	minScore := math.Inf(-1)
	maxScore := math.Inf(1)
	if opts.From != nil {
		minScore = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		maxScore = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zKey, minScore, maxScore)
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		entry, err := fromDLQEntryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var m dlqEntryModel
	if err := s.getEntity(ctx, entityKey(prefixDLQ, dlqID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, dlq.ErrNotFound
		}
		return nil, fmt.Errorf("dispatch/redis: get dlq: %w", err)
	}
	return fromDLQEntryModel(&m)
}

// Replay marks a DLQ entry replayed and enqueues a fresh delivery carrying
// the entry's payload. The entry is kept for audit.
func (s *Store) Replay(ctx context.Context, dlqID id.ID) error {
	key := entityKey(prefixDLQ, dlqID.String())

	var m dlqEntryModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return dlq.ErrNotFound
		}
		return fmt.Errorf("dispatch/redis: replay get: %w", err)
	}

	entry, err := fromDLQEntryModel(&m)
	if err != nil {
		return err
	}

	t := now()
	if err := s.Enqueue(ctx, s.replayDelivery(ctx, entry, t)); err != nil {
		return err
	}

	m.ReplayedAt = &t
	m.UpdatedAt = t
	return s.setEntity(ctx, key, &m)
}

func (s *Store) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, scoreFromTime(from), scoreFromTime(to))
	if err != nil {
		return 0, fmt.Errorf("dispatch/redis: replay bulk list: %w", err)
	}

	t := now()
	var count int64
	for _, entryID := range ids {
		key := entityKey(prefixDLQ, entryID)
		var m dlqEntryModel
		if err := s.getEntity(ctx, key, &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return count, err
		}
		if m.ReplayedAt != nil {
			continue
		}

		entry, err := fromDLQEntryModel(&m)
		if err != nil {
			return count, err
		}
		if err := s.Enqueue(ctx, s.replayDelivery(ctx, entry, t)); err != nil {
			return count, err
		}

		m.ReplayedAt = &t
		m.UpdatedAt = t
		if err := s.setEntity(ctx, key, &m); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// replayDelivery builds a fresh pending delivery from a DLQ entry. The
// retry ceiling is copied from the original delivery when it still exists.
func (s *Store) replayDelivery(ctx context.Context, entry *dlq.Entry, t time.Time) *delivery.Delivery {
	maxRetries := 3
	if orig, err := s.GetDelivery(ctx, entry.DeliveryID); err == nil {
		maxRetries = orig.MaxRetries
	}
	d := &delivery.Delivery{
		ID:             id.NewDeliveryID(),
		SubscriptionID: entry.SubscriptionID,
		EventID:        entry.EventID,
		EventName:      entry.EventName,
		Payload:        entry.Payload,
		State:          delivery.StatePending,
		MaxRetries:     maxRetries,
		NextRetryAt:    t,
	}
	d.CreatedAt = t
	d.UpdatedAt = t
	return d
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, math.Inf(-1), scoreFromTime(before))
	if err != nil {
		return 0, fmt.Errorf("dispatch/redis: purge list: %w", err)
	}

	var count int64
	for _, entryID := range ids {
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return count, err
		}

		if err := s.deleteDLQEntry(ctx, entryID, m.SubscriberID, m.SubscriptionID); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDLQAll).Result()
	if err != nil {
		return 0, fmt.Errorf("dispatch/redis: count dlq: %w", err)
	}
	return count, nil
}

// deleteDLQEntry removes a DLQ entry and its index entries.
func (s *Store) deleteDLQEntry(ctx context.Context, entryID, subscriberID, subscriptionID string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, entityKey(prefixDLQ, entryID))
	pipe.ZRem(ctx, zDLQAll, entryID)
	if subscriberID != "" {
		pipe.ZRem(ctx, zDLQSubscriber+subscriberID, entryID)
	}
	if subscriptionID != "" {
		pipe.ZRem(ctx, zDLQSubscription+subscriptionID, entryID)
	}
	_, err := pipe.Exec(ctx)
	return err
}
