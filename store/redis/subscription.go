package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
	"github.com/careops/dispatch/subscription"
)

// subscriptionModel is the JSON representation stored in Redis. Delivery
// counters are not part of the entity; they live in a separate hash so
// concurrent workers can increment them atomically.
type subscriptionModel struct {
	ID             string            `json:"id"`
	SubscriberID   string            `json:"subscriber_id"`
	SubscriberType string            `json:"subscriber_type"`
	Name           string            `json:"name"`
	Events         []string          `json:"events"`
	EndpointURL    string            `json:"endpoint_url"`
	ContentType    string            `json:"content_type,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	SecurityScheme string            `json:"security_scheme"`
	SecurityKey    string            `json:"security_key"`
	SecurityConfig map[string]string `json:"security_config,omitempty"`
	Filters        map[string]any    `json:"filters,omitempty"`
	Status         string            `json:"status"`
	TimeoutMs      int64             `json:"timeout_ms,omitempty"`
	MaxRetries     int               `json:"max_retries,omitempty"`
	RateLimit      int               `json:"rate_limit,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:             sub.ID.String(),
		SubscriberID:   sub.SubscriberID,
		SubscriberType: sub.SubscriberType,
		Name:           sub.Name,
		Events:         sub.Events,
		EndpointURL:    sub.EndpointURL,
		ContentType:    sub.ContentType,
		Headers:        sub.Headers,
		SecurityScheme: sub.SecurityScheme,
		SecurityKey:    sub.SecurityKey,
		SecurityConfig: sub.SecurityConfig,
		Filters:        sub.Filters,
		Status:         string(sub.Status),
		TimeoutMs:      sub.Timeout.Milliseconds(),
		MaxRetries:     sub.MaxRetries,
		RateLimit:      sub.RateLimit,
		Metadata:       sub.Metadata,
		CreatedAt:      sub.CreatedAt,
		UpdatedAt:      sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             subID,
		SubscriberID:   m.SubscriberID,
		SubscriberType: m.SubscriberType,
		Name:           m.Name,
		Events:         m.Events,
		EndpointURL:    m.EndpointURL,
		ContentType:    m.ContentType,
		Headers:        m.Headers,
		SecurityScheme: m.SecurityScheme,
		SecurityKey:    m.SecurityKey,
		SecurityConfig: m.SecurityConfig,
		Filters:        m.Filters,
		Status:         subscription.Status(m.Status),
		Timeout:        time.Duration(m.TimeoutMs) * time.Millisecond,
		MaxRetries:     m.MaxRetries,
		RateLimit:      m.RateLimit,
		Metadata:       m.Metadata,
	}, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	key := entityKey(prefixSubscription, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("dispatch/redis: create subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zSubSubscriber+m.SubscriberID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if m.Status == string(subscription.StatusActive) {
		pipe.SAdd(ctx, sSubActive, m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: create subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("dispatch/redis: get subscription: %w", err)
	}

	sub, err := fromSubscriptionModel(&m)
	if err != nil {
		return nil, err
	}
	if err := s.loadCounters(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := entityKey(prefixSubscription, sub.ID.String())

	// Verify existence.
	var existing subscriptionModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("dispatch/redis: update subscription get: %w", err)
	}

	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("dispatch/redis: update subscription: %w", err)
	}

	if m.Status == string(subscription.StatusActive) {
		s.rdb.SAdd(ctx, sSubActive, m.ID)
	} else {
		s.rdb.SRem(ctx, sSubActive, m.ID)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	key := entityKey(prefixSubscription, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("dispatch/redis: delete subscription get: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("dispatch/redis: delete subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zSubSubscriber+m.SubscriberID, m.ID)
	pipe.SRem(ctx, sSubActive, m.ID)
	pipe.Del(ctx, hSubCounters+m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: delete subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, subscriberID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubSubscriber+subscriberID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != nil && subscription.Status(m.Status) != *opts.Status {
			continue
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		if err := s.loadCounters(ctx, sub); err != nil {
			return nil, err
		}
		result = append(result, sub)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListActive(ctx context.Context) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.SMembers(ctx, sSubActive).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: list active: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, nil
}

func (s *Store) RecordSuccess(ctx context.Context, subID id.ID, at time.Time) error {
	key := hSubCounters + subID.String()
	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, fieldSuccessCount, 1)
	pipe.HSet(ctx, key, fieldLastSuccessAt, at.UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: record success: %w", err)
	}
	return nil
}

func (s *Store) RecordFailure(ctx context.Context, subID id.ID, at time.Time) error {
	key := hSubCounters + subID.String()
	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, fieldFailureCount, 1)
	pipe.HSet(ctx, key, fieldLastFailureAt, at.UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dispatch/redis: record failure: %w", err)
	}
	return nil
}

// loadCounters merges the atomic counter hash into a subscription entity.
func (s *Store) loadCounters(ctx context.Context, sub *subscription.Subscription) error {
	fields, err := s.rdb.HGetAll(ctx, hSubCounters+sub.ID.String()).Result()
	if err != nil {
		return fmt.Errorf("dispatch/redis: load counters: %w", err)
	}
	if len(fields) == 0 {
		return nil
	}

	if v, ok := fields[fieldSuccessCount]; ok {
		sub.SuccessCount, _ = strconv.ParseInt(v, 10, 64) //nolint:errcheck // written by HIncrBy
	}
	if v, ok := fields[fieldFailureCount]; ok {
		sub.FailureCount, _ = strconv.ParseInt(v, 10, 64) //nolint:errcheck // written by HIncrBy
	}
	if v, ok := fields[fieldLastSuccessAt]; ok {
		if t, parseErr := time.Parse(time.RFC3339Nano, v); parseErr == nil {
			sub.LastSuccessAt = &t
		}
	}
	if v, ok := fields[fieldLastFailureAt]; ok {
		if t, parseErr := time.Parse(time.RFC3339Nano, v); parseErr == nil {
			sub.LastFailureAt = &t
		}
	}
	return nil
}
