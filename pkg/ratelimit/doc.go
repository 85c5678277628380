// Package ratelimit throttles outgoing requests.
//
// TokenBucket refills to capacity once per period. SlidingWindow counts
// requests in a moving window. Keyed keeps one per-minute window per
// RequestType so image downloads do not starve metadata lookups:
//
//	limits := ratelimit.NewKeyed(60, map[ratelimit.RequestType]int{
//		ratelimit.RequestImage: 240,
//	})
//	if err := limits.Wait(ctx, ratelimit.RequestImage); err != nil {
//		return err
//	}
package ratelimit
