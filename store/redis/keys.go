package redis

// Key prefixes for primary entity storage.
const (
	prefixEventType    = "dispatch:evtype:"
	prefixSubscription = "dispatch:sub:"
	prefixEvent        = "dispatch:evt:"
	prefixDelivery     = "dispatch:del:"
	prefixDLQ          = "dispatch:dlq:"
)

// Key prefixes for unique indexes.
const (
	uniqueEventTypeName = "dispatch:u:evtype:name:"
)

// Key prefixes for sorted set indexes.
const (
	zEventTypeAll    = "dispatch:z:evtype:all"
	zEventTypeCat    = "dispatch:z:evtype:cat:" // + category
	zSubSubscriber   = "dispatch:z:sub:owner:"  // + subscriber ID
	zEventAll        = "dispatch:z:evt:all"
	zDeliverySub     = "dispatch:z:del:sub:" // + subscription ID
	zDeliveryEvt     = "dispatch:z:del:evt:" // + event ID
	zDeliveryQueue   = "dispatch:z:del:queue"
	zDLQAll          = "dispatch:z:dlq:all"
	zDLQSubscriber   = "dispatch:z:dlq:owner:" // + subscriber ID
	zDLQSubscription = "dispatch:z:dlq:sub:"   // + subscription ID
)

// Key prefixes for set and hash indexes.
const (
	sSubActive = "dispatch:s:sub:active"

	// hSubCounters holds the per-subscription delivery counters. Counters
	// live outside the JSON entity so HIncrBy keeps them atomic under
	// concurrent engine workers.
	hSubCounters = "dispatch:h:sub:ctr:" // + subscription ID
)

// Counter hash fields.
const (
	fieldSuccessCount  = "success_count"
	fieldFailureCount  = "failure_count"
	fieldLastSuccessAt = "last_success_at"
	fieldLastFailureAt = "last_failure_at"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}
