// Package notifier delivers digests asynchronously.
//
// A notification carries an ordered list of pages for one chat target. The
// service queues notifications, and a small worker pool sends them through
// the transport adapter under a shared token-bucket rate limit. One worker
// owns a notification from its first page to its last, so pages never
// interleave within a chat.
//
// Failed pages are retried with exponential backoff and jitter. Pages that
// were already delivered are not resent.
package notifier
