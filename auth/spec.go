package auth

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/c360/squawkbus/errors"
)

// EntitlementSet is a set of entitlement tags.
type EntitlementSet map[int32]struct{}

// NewEntitlementSet builds a set from its members.
func NewEntitlementSet(vs ...int32) EntitlementSet {
	s := make(EntitlementSet, len(vs))
	for _, v := range vs {
		s[v] = struct{}{}
	}
	return s
}

// Contains reports set membership.
func (s EntitlementSet) Contains(v int32) bool {
	_, ok := s[v]
	return ok
}

// Spec grants an entitlement set to users matching UserPattern for
// topics matching TopicPattern, scoped by role. Patterns are anchored:
// they must match the whole string. Immutable after construction.
type Spec struct {
	UserPattern  *regexp.Regexp
	TopicPattern *regexp.Regexp
	Roles        Role
	Entitlements EntitlementSet
}

// NewSpec compiles a spec from pattern sources.
func NewSpec(userPattern, topicPattern string, roles Role, entitlements EntitlementSet) (Spec, error) {
	userRe, err := compileAnchored(userPattern)
	if err != nil {
		return Spec{}, errors.WrapInvalid(err, "auth", "NewSpec", "user pattern compilation")
	}
	topicRe, err := compileAnchored(topicPattern)
	if err != nil {
		return Spec{}, errors.WrapInvalid(err, "auth", "NewSpec", "topic pattern compilation")
	}
	return Spec{
		UserPattern:  userRe,
		TopicPattern: topicRe,
		Roles:        roles,
		Entitlements: entitlements,
	}, nil
}

// Matches reports whether the spec applies to (user, topic, role).
func (s Spec) Matches(user, topic string, role Role) bool {
	return s.Roles.Has(role) &&
		s.UserPattern.MatchString(user) &&
		s.TopicPattern.MatchString(topic)
}

// compileAnchored compiles pattern to match the full string.
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`\A(?:` + pattern + `)\z`)
}

// ParseSpec parses the inline command-line form
// "user-pattern:topic-pattern:e1,e2,...:RoleA|RoleB".
func ParseSpec(s string) (Spec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Spec{}, errors.WrapInvalid(
			fmt.Errorf("expected 4 parts, found %d", len(parts)),
			"auth", "ParseSpec", "spec parsing")
	}

	entitlements := EntitlementSet{}
	for _, field := range strings.Split(parts[2], ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			return Spec{}, errors.WrapInvalid(
				fmt.Errorf("invalid entitlement %q", field), "auth", "ParseSpec", "entitlement parsing")
		}
		entitlements[int32(v)] = struct{}{}
	}

	roles, err := ParseRole(parts[3])
	if err != nil {
		return Spec{}, err
	}

	return NewSpec(parts[0], parts[1], roles, entitlements)
}

// DefaultSpecs is the policy applied when no authorization file and no
// inline specs were given: everyone may exchange public packets on any
// topic.
func DefaultSpecs() []Spec {
	spec, err := NewSpec(".*", ".*", RoleAll, NewEntitlementSet(0))
	if err != nil {
		panic(err) // static pattern
	}
	return []Spec{spec}
}
