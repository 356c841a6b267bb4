package billing

import "github.com/google/uuid"

// Cache key builders shared by the synchronizer (invalidation side) and the
// entitlement resolver (read side). Keeping them in one place guarantees the
// two sides never drift.

// SubscriptionCacheKey is the per-user current-subscription cache entry.
func SubscriptionCacheKey(userID uuid.UUID) string {
	return "billing:sub:" + userID.String()
}

// FeatureAccessCacheKey is the per-(user, required plan) access cache entry.
// Caching per pair keeps each hot-path check to a single cache read
// regardless of which threshold the caller needs.
func FeatureAccessCacheKey(userID uuid.UUID, requiredPlan PlanType) string {
	return "billing:feature:" + userID.String() + ":" + string(requiredPlan)
}

// EntitlementCacheKeys lists every cache entry a status flip can affect for
// one user: the direct subscription entry plus the feature-access entry for
// each plan tier (a single transition can change several cached access
// booleans at once).
func EntitlementCacheKeys(userID uuid.UUID) []string {
	keys := make([]string, 0, len(PlanTypes())+1)
	keys = append(keys, SubscriptionCacheKey(userID))
	for _, plan := range PlanTypes() {
		keys = append(keys, FeatureAccessCacheKey(userID, plan))
	}
	return keys
}
