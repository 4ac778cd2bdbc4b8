package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type TeamRole string

const (
	RoleTeamlead  TeamRole = "TEAMLEAD"
	RoleOwner     TeamRole = "OWNER"
	RoleManager   TeamRole = "MANAGER"
	RoleDeveloper TeamRole = "DEVELOPER"
	RoleDesigner  TeamRole = "DESIGNER"
	RoleTester    TeamRole = "TESTER"
	RoleAnalyst   TeamRole = "ANALYST"
	RoleIntern    TeamRole = "INTERN"
)

var allRoles = []TeamRole{
	RoleTeamlead, RoleOwner, RoleManager, RoleDeveloper,
	RoleDesigner, RoleTester, RoleAnalyst, RoleIntern,
}

// AllRoles returns every team role in declaration order.
func AllRoles() []TeamRole {
	out := make([]TeamRole, len(allRoles))
	copy(out, allRoles)
	return out
}

func (r TeamRole) IsValid() bool {
	for _, v := range allRoles {
		if v == r {
			return true
		}
	}
	return false
}

func (r TeamRole) ordinal() int {
	for i, v := range allRoles {
		if v == r {
			return i
		}
	}
	return len(allRoles)
}

// ParseTeamRole accepts any casing and surrounding whitespace.
func ParseTeamRole(s string) (TeamRole, error) {
	r := TeamRole(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid team role %q", s)
	}
	return r, nil
}

// NormalizeRoles dedupes roles and orders them by declaration.
func NormalizeRoles(roles []TeamRole) []TeamRole {
	seen := make(map[TeamRole]bool, len(roles))
	out := make([]TeamRole, 0, len(roles))
	for _, r := range roles {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ordinal() < out[j].ordinal() })
	return out
}

// MarshalRoles encodes a role set for storage.
func MarshalRoles(roles []TeamRole) (string, error) {
	if roles == nil {
		roles = []TeamRole{}
	}
	b, err := json.Marshal(roles)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalRoles(raw string) ([]TeamRole, error) {
	if raw == "" {
		return []TeamRole{}, nil
	}
	var roles []TeamRole
	if err := json.Unmarshal([]byte(raw), &roles); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	return roles, nil
}
