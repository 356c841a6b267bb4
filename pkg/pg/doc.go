// Package pg provides PostgreSQL connection helpers for the transactional
// store behind the billing domain.
//
// It wraps pgx's pool with a retrying Connect, a healthcheck probe, and
// error classifiers (IsNotFoundError, IsDuplicateKeyError) used by the
// billing store to translate driver errors into domain sentinels.
//
// Usage:
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	store := billing.NewPgStore(pool)
package pg
