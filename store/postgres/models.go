package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/careops/dispatch/delivery"
	"github.com/careops/dispatch/dlq"
	"github.com/careops/dispatch/event"
	"github.com/careops/dispatch/id"
	"github.com/careops/dispatch/internal/entity"
	"github.com/careops/dispatch/registry"
	"github.com/careops/dispatch/subscription"
)

// --- Event type models ---

type eventTypeModel struct {
	grove.BaseModel `grove:"table:dispatch_event_types"`

	ID          string            `grove:"id,pk"`
	Name        string            `grove:"name,unique"`
	Description string            `grove:"description"`
	Category    string            `grove:"category"`
	Schema      json.RawMessage   `grove:"schema,type:jsonb"`
	Version     string            `grove:"version"`
	Example     json.RawMessage   `grove:"example,type:jsonb"`
	Metadata    map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt   time.Time         `grove:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"`
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

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:dispatch_subscriptions"`

	ID             string            `grove:"id,pk"`
	SubscriberID   string            `grove:"subscriber_id"`
	SubscriberType string            `grove:"subscriber_type"`
	Name           string            `grove:"name"`
	Events         []string          `grove:"events,array"`
	EndpointURL    string            `grove:"endpoint_url"`
	ContentType    string            `grove:"content_type"`
	Headers        map[string]string `grove:"headers,type:jsonb"`
	SecurityScheme string            `grove:"security_scheme"`
	SecurityKey    string            `grove:"security_key"`
	SecurityConfig map[string]string `grove:"security_config,type:jsonb"`
	Filters        json.RawMessage   `grove:"filters,type:jsonb"`
	Status         string            `grove:"status"`
	TimeoutMs      int64             `grove:"timeout_ms"`
	MaxRetries     int               `grove:"max_retries"`
	RateLimit      int               `grove:"rate_limit"`
	SuccessCount   int64             `grove:"success_count"`
	FailureCount   int64             `grove:"failure_count"`
	LastSuccessAt  *time.Time        `grove:"last_success_at"`
	LastFailureAt  *time.Time        `grove:"last_failure_at"`
	Metadata       map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt      time.Time         `grove:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	filters, _ := json.Marshal(sub.Filters) //nolint:errcheck // map of JSON-decoded values
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
		Filters:        filters,
		Status:         string(sub.Status),
		TimeoutMs:      sub.Timeout.Milliseconds(),
		MaxRetries:     sub.MaxRetries,
		RateLimit:      sub.RateLimit,
		SuccessCount:   sub.SuccessCount,
		FailureCount:   sub.FailureCount,
		LastSuccessAt:  sub.LastSuccessAt,
		LastFailureAt:  sub.LastFailureAt,
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
	var filters map[string]any
	if len(m.Filters) > 0 {
		if err := json.Unmarshal(m.Filters, &filters); err != nil {
			return nil, fmt.Errorf("decode filters for %q: %w", m.ID, err)
		}
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
		Filters:        filters,
		Status:         subscription.Status(m.Status),
		Timeout:        time.Duration(m.TimeoutMs) * time.Millisecond,
		MaxRetries:     m.MaxRetries,
		RateLimit:      m.RateLimit,
		SuccessCount:   m.SuccessCount,
		FailureCount:   m.FailureCount,
		LastSuccessAt:  m.LastSuccessAt,
		LastFailureAt:  m.LastFailureAt,
		Metadata:       m.Metadata,
	}, nil
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:dispatch_events"`

	ID        string            `grove:"id,pk"`
	Name      string            `grove:"name"`
	Payload   json.RawMessage   `grove:"payload,type:jsonb"`
	Metadata  map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt time.Time         `grove:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:        evt.ID.String(),
		Name:      evt.Name,
		Payload:   evt.Payload,
		Metadata:  evt.Metadata,
		CreatedAt: evt.CreatedAt,
		UpdatedAt: evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	return &event.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:       evtID,
		Name:     m.Name,
		Payload:  m.Payload,
		Metadata: m.Metadata,
	}, nil
}

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:dispatch_deliveries"`

	ID              string            `grove:"id,pk"`
	SubscriptionID  string            `grove:"subscription_id"`
	EventID         string            `grove:"event_id"`
	EventName       string            `grove:"event_name"`
	State           string            `grove:"state"`
	Payload         json.RawMessage   `grove:"payload,type:jsonb"`
	RequestHeaders  map[string]string `grove:"request_headers,type:jsonb"`
	ResponseStatus  int               `grove:"response_status"`
	ResponseBody    string            `grove:"response_body"`
	ResponseHeaders map[string]string `grove:"response_headers,type:jsonb"`
	RespondedAt     *time.Time        `grove:"responded_at"`
	DurationMs      int               `grove:"duration_ms"`
	RetryCount      int               `grove:"retry_count"`
	MaxRetries      int               `grove:"max_retries"`
	NextRetryAt     time.Time         `grove:"next_retry_at"`
	Error           string            `grove:"error"`
	ErrorDetail     string            `grove:"error_detail"`
	ClaimedAt       *time.Time        `grove:"claimed_at"`
	CompletedAt     *time.Time        `grove:"completed_at"`
	CreatedAt       time.Time         `grove:"created_at"`
	UpdatedAt       time.Time         `grove:"updated_at"`
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

// --- DLQ models ---

type dlqEntryModel struct {
	grove.BaseModel `grove:"table:dispatch_dlq"`

	ID             string          `grove:"id,pk"`
	DeliveryID     string          `grove:"delivery_id"`
	EventID        string          `grove:"event_id"`
	SubscriptionID string          `grove:"subscription_id"`
	EventName      string          `grove:"event_name"`
	SubscriberID   string          `grove:"subscriber_id"`
	EndpointURL    string          `grove:"endpoint_url"`
	Payload        json.RawMessage `grove:"payload,type:jsonb"`
	Error          string          `grove:"error"`
	RetryCount     int             `grove:"retry_count"`
	LastStatusCode int             `grove:"last_status_code"`
	ReplayedAt     *time.Time      `grove:"replayed_at"`
	FailedAt       time.Time       `grove:"failed_at"`
	CreatedAt      time.Time       `grove:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"`
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
