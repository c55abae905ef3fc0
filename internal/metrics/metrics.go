package metrics

import "expvar"

var (
	EventsTotal    = expvar.NewInt("events_total")
	DispatchOK     = expvar.NewInt("dispatch_ok")
	DispatchFailed = expvar.NewInt("dispatch_failed")
	DispatchSkip   = expvar.NewInt("dispatch_skipped")
	Reconnects     = expvar.NewInt("reconnects")
	PollErrors     = expvar.NewInt("poll_errors")
	DedupHits      = expvar.NewInt("dedup_hits")
	BreakerTrips   = expvar.NewInt("breaker_trips")
)
