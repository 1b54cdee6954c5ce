package rolegate

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleCustomer      Role = "customer"
	RoleConsultant    Role = "consultant"
	RoleLabTechnician Role = "lab_technician"
	RoleNutritionist  Role = "nutritionist"
	RoleChef          Role = "chef"
	RoleDelivery      Role = "delivery"
	RoleAdmin         Role = "admin"
	RoleSystem        Role = "system"
)

var knownRoles = map[Role]struct{}{
	RoleCustomer:      {},
	RoleConsultant:    {},
	RoleLabTechnician: {},
	RoleNutritionist:  {},
	RoleChef:          {},
	RoleDelivery:      {},
	RoleAdmin:         {},
	RoleSystem:        {},
}

func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

func (r Role) String() string { return string(r) }

// ParseRole rejects anything outside the closed role set.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

func IsAdmin(role Role) bool { return role == RoleAdmin }

// IsStaffRole reports whether role belongs to a human staff member.
func IsStaffRole(role Role) bool {
	switch role {
	case RoleConsultant, RoleLabTechnician, RoleNutritionist, RoleChef, RoleDelivery, RoleAdmin:
		return true
	}
	return false
}
