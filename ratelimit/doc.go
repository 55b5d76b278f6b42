// Package ratelimit provides multi-window token buckets keyed by API and
// entity.
//
// A limit is written as comma separated "capacity:seconds" pairs. "500:60,
// 50000:3600" allows at most 500 events a minute and 50000 an hour; an event
// is admitted only when every window has a token left. Each window refills
// continuously at capacity/period, so a drained window recovers its full
// capacity after one period.
//
//	svc := ratelimit.NewService(nil)
//	if !svc.CheckRateLimit(ratelimit.RuleChainDebugEvents, tenantID.String(), "50000:3600") {
//		return // suppressed
//	}
//
// An empty limit string disables limiting. Changing the limit string for a
// key starts a fresh bucket.
package ratelimit
