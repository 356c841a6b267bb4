package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/entitlements/pkg/billing"
)

// Resource is a countable per-user resource type.
type Resource string

const (
	ResourceProjects Resource = "projects"
	ResourceAPIKeys  Resource = "api_keys"
	ResourceExports  Resource = "exports"
	// extend as needed
)

// Unlimited marks a plan/resource pair with no limit (-1 for SQL
// compatibility).
const Unlimited int64 = -1

// Period scopes a counter in time.
type Period int

const (
	// PeriodLifetime counts all records ever created by the user.
	PeriodLifetime Period = iota
	// PeriodMonthly counts records created since the start of the current
	// calendar month (UTC). Monthly cache keys embed year and month, so
	// counters self-reset at period boundaries with no scheduled job.
	PeriodMonthly
)

// CounterFunc runs the live counting query for a resource: total records for
// the user, restricted to periodStart and later for period-scoped resources
// (periodStart is the zero time for lifetime counts). The query result is
// the source of truth; the cache only memoizes it.
type CounterFunc func(ctx context.Context, userID uuid.UUID, periodStart time.Time) (int64, error)

// Definition describes how one resource type is limited and counted.
type Definition struct {
	Resource Resource
	// Label is the user-facing resource name used in quota errors.
	Label string
	// Limits holds the per-plan limit table. Must be total over all plan
	// tiers; use Unlimited for tiers with no cap.
	Limits map[billing.PlanType]int64
	Period Period
	Count  CounterFunc
	// CacheTTL bounds counter staleness when an invalidation is missed.
	CacheTTL time.Duration
}

func (d Definition) validate() error {
	if d.Resource == "" {
		return fmt.Errorf("quota: definition missing resource name")
	}
	if d.Count == nil {
		return fmt.Errorf("quota: resource %q has no counter", d.Resource)
	}
	for _, plan := range billing.PlanTypes() {
		if _, ok := d.Limits[plan]; !ok {
			return fmt.Errorf("quota: resource %q has no limit for plan %s", d.Resource, plan)
		}
	}
	return nil
}

// Quota is the usage surface for display: current usage, the plan limit and
// what remains. Limit and Remaining are Unlimited for uncapped plans.
type Quota struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}
