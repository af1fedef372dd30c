// Package probe measures latency and download throughput against the speed
// test endpoint.
//
// Every probe issues its requests strictly one after another: a sample's
// elapsed time must cover exactly one request. Any request error aborts the
// probe; samples whose server-reported delay is not smaller than the elapsed
// time are dropped and only logged.
package probe

// Callbacks receives progress notifications. Calls happen between requests,
// never while one is being timed.
type Callbacks interface {
	OnProgress(done, total int, message string)
}

// NopCallbacks ignores every notification.
type NopCallbacks struct{}

func (NopCallbacks) OnProgress(int, int, string) {}
