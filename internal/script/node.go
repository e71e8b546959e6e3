package script

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/stupiduntilnot/msgflux/internal/value"
)

// nodeValue converts a decoded YAML node into a Value, keeping mapping keys
// in document order.
func nodeValue(n *yaml.Node) (value.Value, error) {
	switch n.Kind {
	case 0:
		return value.Scalar(nil), nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return value.Scalar(nil), nil
		}
		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.MappingNode:
		m := value.NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return value.Absent, fmt.Errorf("line %d: mapping key: %w", n.Content[i].Line, err)
			}
			v, err := nodeValue(n.Content[i+1])
			if err != nil {
				return value.Absent, err
			}
			m.Set(key, v)
		}
		return value.MapOf(m), nil
	case yaml.SequenceNode:
		items := make([]value.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return value.Absent, err
			}
			items = append(items, v)
		}
		return value.List(items...), nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return value.Absent, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return value.Scalar(v), nil
	}
}

// parseValue reads one YAML value from raw text.
func parseValue(raw string) (value.Value, error) {
	var n yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &n); err != nil {
		return value.Absent, err
	}
	return nodeValue(&n)
}
