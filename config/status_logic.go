package config

import (
	"fmt"
	"strings"

	"inspectwatch/types"

	"gopkg.in/yaml.v3"
)

// StatusKeywords maps one status to the class-name keywords that select it
type StatusKeywords struct {
	Status   types.Status
	Keywords []string
}

// StatusLogic is the ordered status -> keywords mapping; the first matching status wins
type StatusLogic []StatusKeywords

// UnmarshalYAML decodes a mapping while keeping the document order of its keys
func (s *StatusLogic) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("status_logic must be a mapping, got %s", describeKind(node.Kind))
	}

	logic := make(StatusLogic, 0, len(node.Content)/2)
	seen := make(map[types.Status]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		status, err := types.ParseStatus(node.Content[i].Value)
		if err != nil {
			return fmt.Errorf("status_logic line %d: %v", node.Content[i].Line, err)
		}
		if seen[status] {
			return fmt.Errorf("status_logic line %d: duplicate status %q", node.Content[i].Line, status)
		}
		seen[status] = true

		var keywords []string
		if err := node.Content[i+1].Decode(&keywords); err != nil {
			return fmt.Errorf("status_logic.%s: %v", status, err)
		}
		for j, kw := range keywords {
			keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
		logic = append(logic, StatusKeywords{Status: status, Keywords: keywords})
	}

	*s = logic
	return nil
}

func describeKind(kind yaml.Kind) string {
	switch kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.DocumentNode:
		return "document"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown node"
	}
}
