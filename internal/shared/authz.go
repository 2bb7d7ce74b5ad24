package shared

import "strings"

// Role names an operator role.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleStoreManager Role = "store_manager"
	RoleCashier      Role = "cashier"
)

// ParseRole normalises a role string. Unknown roles return false.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	switch role {
	case RoleAdmin, RoleStoreManager, RoleCashier:
		return role, true
	}
	return "", false
}

// Capability names a state-changing action.
type Capability string

// Register and sale capabilities.
const (
	CapSell            Capability = "pos.sell"
	CapCollect         Capability = "pos.collect"
	CapLoyaltyManage   Capability = "pos.loyalty.manage"
	CapRegisterOperate Capability = "register.operate"
	CapRegisterManage  Capability = "register.manage"
)

// Stock capabilities.
const (
	CapLedgerView       Capability = "ledger.view"
	CapLedgerManual     Capability = "ledger.manual"
	CapTransfer         Capability = "stock.transfer"
	CapCountCreate      Capability = "count.create"
	CapCountEdit        Capability = "count.edit"
	CapCountEditPending Capability = "count.edit_pending"
	CapCountSubmit      Capability = "count.submit"
	CapCountApprove     Capability = "count.approve"
	CapCountCancel      Capability = "count.cancel"
	CapCountDelete      Capability = "count.delete"
)

// CapJobsRun allows triggering background jobs by hand. Only admins hold it.
const CapJobsRun Capability = "jobs.run"

var roleCapabilities = map[Role]map[Capability]struct{}{
	RoleCashier: capSet(
		CapSell, CapCollect, CapRegisterOperate, CapLedgerView,
		CapCountCreate, CapCountEdit, CapCountSubmit,
	),
	RoleStoreManager: capSet(
		CapSell, CapCollect, CapRegisterOperate, CapRegisterManage, CapLedgerView,
		CapLedgerManual, CapTransfer,
		CapCountCreate, CapCountEdit, CapCountEditPending, CapCountSubmit,
		CapCountApprove, CapCountCancel, CapCountDelete,
	),
}

func capSet(caps ...Capability) map[Capability]struct{} {
	set := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Can reports whether role holds capability. Admins hold every capability.
func Can(role Role, capability Capability) bool {
	if role == RoleAdmin {
		return true
	}
	caps, ok := roleCapabilities[role]
	if !ok {
		return false
	}
	_, ok = caps[capability]
	return ok
}

// Authorize returns a permission ConflictError when actor lacks capability.
func Authorize(actor Actor, capability Capability) error {
	if actor.ID == 0 {
		return ErrUnauthorized
	}
	if !Can(actor.Role, capability) {
		return NewConflictError(ConflictPermission, "role %q may not %s", actor.Role, capability)
	}
	return nil
}
