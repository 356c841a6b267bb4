// Package quota enforces per-resource, per-plan usage limits with cached
// counters.
//
// Each resource is described by a Definition: its per-plan limit table, a
// counting query (the source of truth - the cache never is), a period scope
// and a cache TTL. Lifetime resources use a stable cache key; monthly
// resources embed year and month in the key, so counters self-reset at
// period boundaries without a scheduled job.
//
// Denial uses used >= limit: at-limit is denied, one-below is allowed.
// Plans marked Unlimited short-circuit before any counting, so checks on
// uncapped tiers are free.
//
// Usage:
//
//	enforcer, err := quota.NewEnforcer([]quota.Definition{
//	    {
//	        Resource: quota.ResourceProjects,
//	        Label:    "projects",
//	        Limits: map[billing.PlanType]int64{
//	            billing.PlanFree:    10,
//	            billing.PlanStarter: 100,
//	            billing.PlanPro:     quota.Unlimited,
//	        },
//	        Period: quota.PeriodLifetime,
//	        Count:  countProjects, // SELECT count(*) FROM projects WHERE user_id = $1
//	    },
//	}, store, entCache)
//
//	if err := enforcer.CheckLimit(ctx, userID, quota.ResourceProjects); err != nil {
//	    var qe *quota.QuotaExceededError
//	    if errors.As(err, &qe) {
//	        // qe.Plan, qe.Limit, qe.Resource: everything the response needs
//	    }
//	}
//
// Any mutation that changes a count must call InvalidateCache afterwards;
// a missed invalidation self-heals when the definition's CacheTTL expires.
package quota
