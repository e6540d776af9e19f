// Package rbac is the portal's single table of who may do what.
//
// Roles are a closed set. Each role maps to explicit capabilities; the top
// administrative tier holds the wildcard. Anything unknown is denied.
package rbac

import (
	"slices"
	"strings"
)

type Role string

const (
	// RoleNone marks an account that still has to pick a role during
	// onboarding. It is also the role of every anonymous session.
	RoleNone          Role = "none"
	RoleAlumni        Role = "alumni"
	RoleMitglied      Role = "mitglied"
	RoleRessortleiter Role = "ressortleiter"
	RoleVorstand      Role = "vorstand"
	RoleAdmin         Role = "admin"

	// Board seats. They carry the same rights as RoleVorstand.
	RoleVorstandFinanzen Role = "vorstand_finanzen"
	RoleVorstandIntern   Role = "vorstand_intern"
	RoleVorstandExtern   Role = "vorstand_extern"
)

type Capability string

const (
	Wildcard Capability = "*"

	NewsRead           Capability = "news.read"
	NewsWrite          Capability = "news.write"
	EventsRead         Capability = "events.read"
	EventsRegister     Capability = "events.register"
	EventsManage       Capability = "events.manage"
	InventoryRead      Capability = "inventory.read"
	InventoryManage    Capability = "inventory.manage"
	AlumniRead         Capability = "alumni.read"
	ProfileEdit        Capability = "profile.edit"
	DashboardView      Capability = "dashboard.view"
	InvitationsManage  Capability = "invitations.manage"
	AccountsManage     Capability = "accounts.manage"
	OnboardingComplete Capability = "onboarding.complete"
)

var memberCaps = []Capability{
	NewsRead, EventsRead, EventsRegister, InventoryRead, AlumniRead, ProfileEdit, DashboardView,
}

var grants = map[Role][]Capability{
	RoleNone:             {OnboardingComplete},
	RoleAlumni:           {NewsRead, EventsRead, AlumniRead, ProfileEdit, DashboardView},
	RoleMitglied:         memberCaps,
	RoleRessortleiter:    append(slices.Clone(memberCaps), NewsWrite, EventsManage, InventoryManage),
	RoleVorstand:         {Wildcard},
	RoleVorstandFinanzen: {Wildcard},
	RoleVorstandIntern:   {Wildcard},
	RoleVorstandExtern:   {Wildcard},
	RoleAdmin:            {Wildcard},
}

var fullAccess = map[Role]bool{
	RoleAdmin:            true,
	RoleVorstand:         true,
	RoleVorstandFinanzen: true,
	RoleVorstandIntern:   true,
	RoleVorstandExtern:   true,
}

var knownCaps = map[Capability]bool{
	NewsRead: true, NewsWrite: true, EventsRead: true, EventsRegister: true,
	EventsManage: true, InventoryRead: true, InventoryManage: true, AlumniRead: true,
	ProfileEdit: true, DashboardView: true, InvitationsManage: true,
	AccountsManage: true, OnboardingComplete: true,
}

// Can reports whether role holds capability, directly or via the wildcard.
// The wildcard itself is not a grantable capability and is always denied.
func Can(role Role, capability Capability) bool {
	if !knownCaps[capability] {
		return false
	}
	for _, c := range grants[role] {
		if c == Wildcard || c == capability {
			return true
		}
	}
	return false
}

// HasFullAccess reports membership in the administrative tier: admin,
// vorstand and the board seats.
func HasFullAccess(role Role) bool {
	return fullAccess[role]
}

// ParseRole maps a stored or submitted string onto a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.IsValid()
}

func (r Role) IsValid() bool {
	_, ok := grants[r]
	return ok
}

func (r Role) String() string { return string(r) }

// AllRoles lists every role, lowest privilege first.
func AllRoles() []Role {
	return []Role{
		RoleNone, RoleAlumni, RoleMitglied, RoleRessortleiter,
		RoleVorstand, RoleVorstandFinanzen, RoleVorstandIntern, RoleVorstandExtern,
		RoleAdmin,
	}
}

// AllCapabilities lists every grantable capability in sorted order.
func AllCapabilities() []Capability {
	out := make([]Capability, 0, len(knownCaps))
	for c := range knownCaps {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Capabilities expands role into the sorted list of capabilities it holds.
func Capabilities(role Role) []Capability {
	out := make([]Capability, 0, len(knownCaps))
	for _, c := range AllCapabilities() {
		if Can(role, c) {
			out = append(out, c)
		}
	}
	return out
}
