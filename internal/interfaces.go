package internal

import (
	"context"
)

type RateLimiterInterface interface {
	Allow(ctx context.Context, key string) (bool, error)
}

var (
	_ RateLimiterInterface = (*RateLimiter)(nil)
	_ RateLimiterInterface = (*LocalRateLimiter)(nil)

	_ Extractor = (*RiotAPIClient)(nil)
	_ Store     = (*Loader)(nil)

	_ LeaderboardReader = (*Loader)(nil)
	_ SnapshotPublisher = (*CacheManager)(nil)
	_ SnapshotReader    = (*CacheManager)(nil)
	_ RunStatus         = (*Pipeline)(nil)

	_ Notifier = (*SlackNotifier)(nil)
	_ Notifier = (*NATSNotifier)(nil)
	_ Notifier = MultiNotifier(nil)
	_ Notifier = NopNotifier{}
)
