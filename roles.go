package savvy

// Privilege names an action gated by a group role.
type Privilege string

const (
	// PrivilegeView covers read access to group data
	PrivilegeView Privilege = "view"
	// PrivilegePostExpense covers posting expenses and subscription charges
	PrivilegePostExpense Privilege = "post_expense"
	// PrivilegeInvite covers issuing invitations
	PrivilegeInvite Privilege = "invite"
	// PrivilegeManageGroup covers group settings changes
	PrivilegeManageGroup Privilege = "manage_group"
)

// InvitePolicy selects which roles may issue invitations. The source systems
// disagreed on this, so it is a deployment knob rather than a constant.
type InvitePolicy string

const (
	// InvitePolicyAdminOnly restricts invitations to group admins
	InvitePolicyAdminOnly InvitePolicy = "admin_only"
	// InvitePolicyAdminAndMember lets members invite too
	InvitePolicyAdminAndMember InvitePolicy = "admin_and_member"
)

// IsValid checks the policy is one of the predefined values
func (p InvitePolicy) IsValid() bool {
	switch p {
	case InvitePolicyAdminOnly, InvitePolicyAdminAndMember:
		return true
	default:
		return false
	}
}

// Roles returns the set of roles the policy grants PrivilegeInvite.
func (p InvitePolicy) Roles() []GroupRole {
	if p == InvitePolicyAdminAndMember {
		return []GroupRole{RoleAdmin, RoleMember}
	}
	return []GroupRole{RoleAdmin}
}

// IsValidRole checks if the role is one of the predefined valid roles
func IsValidRole(r GroupRole) bool {
	switch r {
	case RoleViewer, RoleMember, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole safely parses a string into a GroupRole
func ParseRole(roleStr string) (GroupRole, bool) {
	role := GroupRole(roleStr)
	return role, IsValidRole(role)
}

// AllRoles returns all predefined roles in hierarchical order
func AllRoles() []GroupRole {
	return []GroupRole{
		RoleViewer,
		RoleMember,
		RoleAdmin,
	}
}

// RoleIsAtLeast checks if role meets the minimum required level
func RoleIsAtLeast(r, minRole GroupRole) bool {
	roleHierarchy := map[GroupRole]int{
		RoleViewer: 0,
		RoleMember: 1,
		RoleAdmin:  2,
	}

	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// Authorize is the authorization gate: it reports whether role satisfies the
// privilege under the given invite policy. Pure function, no side effects.
func Authorize(role GroupRole, privilege Privilege, policy InvitePolicy) bool {
	if !IsValidRole(role) {
		return false
	}

	switch privilege {
	case PrivilegeView:
		return true
	case PrivilegePostExpense:
		return RoleIsAtLeast(role, RoleMember)
	case PrivilegeManageGroup:
		return role == RoleAdmin
	case PrivilegeInvite:
		for _, allowed := range policy.Roles() {
			if role == allowed {
				return true
			}
		}
		return false
	default:
		return false
	}
}
