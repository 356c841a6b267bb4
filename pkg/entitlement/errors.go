package entitlement

import "errors"

var (
	// ErrCustomerProvisioningInFlight means another process holds the
	// provisioning lock and had not persisted the customer ID within the
	// wait window. Callers should retry the request.
	ErrCustomerProvisioningInFlight = errors.New("entitlement: billing customer provisioning in progress")
)
