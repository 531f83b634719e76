package auth

import (
	"fmt"
	"strings"

	"github.com/c360/squawkbus/errors"
)

// Role is a bitset of the capacities a spec grants.
type Role uint8

const (
	RoleSubscriber Role = 1
	RolePublisher  Role = 2
	RoleNotifier   Role = 4
	RoleAll        Role = RoleSubscriber | RolePublisher | RoleNotifier
)

// Has reports whether r includes every bit of role.
func (r Role) Has(role Role) bool {
	return r&role == role
}

// String returns the canonical "A|B" rendering.
func (r Role) String() string {
	if r == RoleAll {
		return "All"
	}
	var parts []string
	if r.Has(RoleSubscriber) {
		parts = append(parts, "Subscriber")
	}
	if r.Has(RolePublisher) {
		parts = append(parts, "Publisher")
	}
	if r.Has(RoleNotifier) {
		parts = append(parts, "Notifier")
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// ParseRole parses a role expression such as "All", "Subscriber" or
// "Subscriber|Publisher". Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	var r Role
	for _, part := range strings.Split(s, "|") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "subscriber":
			r |= RoleSubscriber
		case "publisher":
			r |= RolePublisher
		case "notifier":
			r |= RoleNotifier
		case "all":
			r |= RoleAll
		default:
			return 0, errors.WrapInvalid(
				fmt.Errorf("unknown role %q", part), "auth", "ParseRole", "role parsing")
		}
	}
	return r, nil
}
