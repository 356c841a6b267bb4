// Package redis provides connection helpers for the shared Redis store that
// backs the entitlement cache and the distributed mutex.
//
// It wraps the go-redis client with a retrying Connect and a healthcheck
// probe. Configuration comes from environment variables via the Config
// struct (see pkg/config for the loader).
//
// Usage:
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// The resulting client feeds cache.NewRedisCache and distlock.New.
package redis
