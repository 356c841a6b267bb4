// Package config loads typed configuration structs from environment
// variables, with optional .env file support for local development.
//
// Configuration is declared as plain structs with `env` tags and parsed
// with caarlos0/env. Each component owns its config type (pg.Config,
// redis.Config, billing.StripeConfig) and the process entry point loads
// them all at startup:
//
//	var (
//		pgCfg     pg.Config
//		redisCfg  redis.Config
//		stripeCfg billing.StripeConfig
//	)
//	config.MustLoad(&pgCfg)
//	config.MustLoad(&redisCfg)
//	config.MustLoad(&stripeCfg)
//
// MustLoad panics on missing required variables so misconfiguration is
// caught at boot rather than on the first request.
package config
