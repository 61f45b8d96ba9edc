package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

// Stats are cumulative counters since the service was created.
type Stats struct {
	Queued  uint64 `json:"queued"`
	Sent    uint64 `json:"sent"`  // notifications fully delivered
	Pages   uint64 `json:"pages"` // pages delivered
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}
