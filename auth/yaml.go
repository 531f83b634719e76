package auth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/c360/squawkbus/errors"
)

// authorizationEntry is the YAML value under a topic pattern.
type authorizationEntry struct {
	Role         string  `yaml:"role"`
	Entitlements []int32 `yaml:"entitlements"`
}

// LoadSpecsFile loads authorization specs from a YAML file mapping
//
//	user-pattern:
//	  topic-pattern:
//	    role: All | Subscriber | Publisher | Notifier | A|B
//	    entitlements: [1, 2]
//
// Document order is preserved so first-match semantics follow the
// file's declaration order.
func LoadSpecsFile(path string) ([]Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "auth", "LoadSpecsFile", "read authorizations file")
	}

	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, errors.WrapFatal(err, "auth", "LoadSpecsFile", "parse authorizations file")
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, errors.WrapFatal(
			fmt.Errorf("expected a mapping of user patterns"),
			"auth", "LoadSpecsFile", "document structure")
	}

	var specs []Spec
	for i := 0; i+1 < len(doc.Content); i += 2 {
		userPattern := doc.Content[i].Value
		topics := doc.Content[i+1]
		if topics.Kind != yaml.MappingNode {
			return nil, errors.WrapFatal(
				fmt.Errorf("user pattern %q: expected a mapping of topic patterns", userPattern),
				"auth", "LoadSpecsFile", "document structure")
		}

		for j := 0; j+1 < len(topics.Content); j += 2 {
			topicPattern := topics.Content[j].Value

			var entry authorizationEntry
			if err := topics.Content[j+1].Decode(&entry); err != nil {
				return nil, errors.WrapFatal(err, "auth", "LoadSpecsFile",
					fmt.Sprintf("decode authorization for %q / %q", userPattern, topicPattern))
			}

			roles, err := ParseRole(entry.Role)
			if err != nil {
				return nil, errors.WrapFatal(err, "auth", "LoadSpecsFile",
					fmt.Sprintf("role for %q / %q", userPattern, topicPattern))
			}

			spec, err := NewSpec(userPattern, topicPattern, roles, NewEntitlementSet(entry.Entitlements...))
			if err != nil {
				return nil, errors.WrapFatal(err, "auth", "LoadSpecsFile",
					fmt.Sprintf("spec for %q / %q", userPattern, topicPattern))
			}
			specs = append(specs, spec)
		}
	}

	return specs, nil
}
