// Package redis provides Redis-based implementations of waveportal persistence interfaces.
//
// It provides two stores:
//   - FeedStore: implements waveportal.FeedStore, a cache of the reconciled feed
//   - SubmissionStore: implements waveportal.SubmissionStore, the in-flight wave per account
//
// # Basic Usage
//
//	import (
//	    "github.com/redis/go-redis/v9"
//	    "github.com/tranvictor/waveportal"
//	    redisstore "github.com/tranvictor/waveportal/persistence/redis"
//	)
//
//	client := redis.NewClient(&redis.Options{
//	    Addr: "localhost:6379",
//	})
//
//	app, err := waveportal.NewAppController(gateway, contractClient,
//	    waveportal.WithFeedStore(redisstore.NewFeedStore(client)),
//	    waveportal.WithSubmissionStore(redisstore.NewSubmissionStore(client)),
//	)
//
// # Redis Key Structure
//
// FeedStore uses the following key patterns:
//
//   - waveportal:feed:{contract} - List of waves in insertion order (JSON)
//   - waveportal:feed:{contract}:keys - Set of identity keys ({address}:{timestamp})
//
// SubmissionStore uses the following key pattern:
//
//   - waveportal:submission:{account} - In-flight wave (JSON, signed tx as RLP)
//
// Use WithFeedStoreKeyPrefix and WithSubmissionStoreKeyPrefix to isolate
// environments sharing one Redis.
//
// # Thread Safety
//
// All stores are thread-safe and can be used from multiple goroutines.
// Redis handles the underlying concurrency control.
package redis
