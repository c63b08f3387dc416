package delivery_test

import (
	"testing"
	"time"

	"github.com/careops/dispatch/delivery"
)

func TestRetrierDecide(t *testing.T) {
	schedule := []time.Duration{60 * time.Second, 300 * time.Second, 1800 * time.Second}
	retrier := delivery.NewRetrier(schedule)

	tests := []struct {
		name     string
		result   delivery.Result
		delivery *delivery.Delivery
		want     delivery.Decision
	}{
		{
			name:     "200 OK delivered",
			result:   delivery.Result{StatusCode: 200},
			delivery: &delivery.Delivery{RetryCount: 0, MaxRetries: 3},
			want:     delivery.Delivered,
		},
		{
			name:     "201 Created delivered",
			result:   delivery.Result{StatusCode: 201},
			delivery: &delivery.Delivery{RetryCount: 0, MaxRetries: 3},
			want:     delivery.Delivered,
		},
		{
			name:     "204 No Content delivered",
			result:   delivery.Result{StatusCode: 204},
			delivery: &delivery.Delivery{RetryCount: 2, MaxRetries: 3},
			want:     delivery.Delivered,
		},
		{
			name:     "299 delivered",
			result:   delivery.Result{StatusCode: 299},
			delivery: &delivery.Delivery{RetryCount: 0, MaxRetries: 3},
			want:     delivery.Delivered,
		},
		{
			name:     "500 retries while below ceiling",
			result:   delivery.Result{StatusCode: 500},
			delivery: &delivery.Delivery{RetryCount: 0, MaxRetries: 3},
			want:     delivery.Retry,
		},
		{
			name:     "404 retries like any failure",
			result:   delivery.Result{StatusCode: 404},
			delivery: &delivery.Delivery{RetryCount: 0, MaxRetries: 3},
			want:     delivery.Retry,
		},
		{
			name:     "429 retries like any failure",
			result:   delivery.Result{StatusCode: 429},
			delivery: &delivery.Delivery{RetryCount: 1, MaxRetries: 3},
			want:     delivery.Retry,
		},
		{
			name:     "connection error retries",
			result:   delivery.Result{StatusCode: 0, Error: "connection refused"},
			delivery: &delivery.Delivery{RetryCount: 0, MaxRetries: 3},
			want:     delivery.Retry,
		},
		{
			name:     "last scheduled retry still retries",
			result:   delivery.Result{StatusCode: 500},
			delivery: &delivery.Delivery{RetryCount: 2, MaxRetries: 3},
			want:     delivery.Retry,
		},
		{
			name:     "ceiling reached fails",
			result:   delivery.Result{StatusCode: 500},
			delivery: &delivery.Delivery{RetryCount: 3, MaxRetries: 3},
			want:     delivery.Failed,
		},
		{
			name:     "zero max retries fails immediately",
			result:   delivery.Result{StatusCode: 503},
			delivery: &delivery.Delivery{RetryCount: 0, MaxRetries: 0},
			want:     delivery.Failed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retrier.Decide(tt.result, tt.delivery)
			if got != tt.want {
				t.Fatalf("Decide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetrierDelay(t *testing.T) {
	schedule := []time.Duration{60 * time.Second, 300 * time.Second, 1800 * time.Second}
	retrier := delivery.NewRetrier(schedule)

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 60 * time.Second},
		{1, 300 * time.Second},
		{2, 1800 * time.Second},
		{3, 1800 * time.Second},
		{10, 1800 * time.Second},
		{-1, 60 * time.Second},
	}

	for _, tt := range tests {
		if got := retrier.Delay(tt.retryCount); got != tt.want {
			t.Fatalf("Delay(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestRetrierDelayEmptySchedule(t *testing.T) {
	retrier := delivery.NewRetrier(nil)
	if got := retrier.Delay(0); got != 0 {
		t.Fatalf("Delay(0) = %v, want 0", got)
	}
}

func TestRetrierNextRetryAt(t *testing.T) {
	schedule := []time.Duration{60 * time.Second}
	retrier := delivery.NewRetrier(schedule)

	before := time.Now().UTC()
	at := retrier.NextRetryAt(0)
	after := time.Now().UTC()

	if at.Before(before.Add(60 * time.Second)) {
		t.Fatalf("NextRetryAt too early: %v", at)
	}
	if at.After(after.Add(60 * time.Second)) {
		t.Fatalf("NextRetryAt too late: %v", at)
	}
}
