// Package cliargs turns nested YAML configuration into command-line
// arguments, preserving the key order of the source document.
package cliargs

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrNotMapping = errors.New("configuration must be a mapping")

// mapping unwraps documents and aliases down to a mapping node.
func mapping(node *yaml.Node) (*yaml.Node, error) {
	for node != nil {
		switch node.Kind {
		case yaml.DocumentNode:
			if len(node.Content) == 0 {
				return &yaml.Node{Kind: yaml.MappingNode}, nil
			}
			node = node.Content[0]
		case yaml.AliasNode:
			node = node.Alias
		case yaml.MappingNode:
			return node, nil
		case 0:
			// empty input
			return &yaml.Node{Kind: yaml.MappingNode}, nil
		default:
			return nil, fmt.Errorf("%w, got %s at line %d", ErrNotMapping, kindName(node.Kind), node.Line)
		}
	}
	return &yaml.Node{Kind: yaml.MappingNode}, nil
}

func resolve(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	return node
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.MappingNode:
		return "mapping"
	}
	return "node"
}

// Flatten converts a mapping into "--key value" arguments. Underscores in
// keys become dashes, nested mappings are flattened without a prefix, lists
// become "--key v1 v2", true becomes a bare "--key", and false or null
// values are dropped. Keys listed in ignore are skipped at every level.
func Flatten(node *yaml.Node, ignore ...string) ([]string, error) {
	m, err := mapping(node)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(ignore))
	for _, k := range ignore {
		skip[k] = true
	}
	return flatten(m, skip)
}

func flatten(m *yaml.Node, skip map[string]bool) ([]string, error) {
	var args []string
	for i := 0; i+1 < len(m.Content); i += 2 {
		key := m.Content[i].Value
		if skip[key] {
			continue
		}
		flag := "--" + strings.ReplaceAll(key, "_", "-")
		value := resolve(m.Content[i+1])

		switch value.Kind {
		case yaml.MappingNode:
			nested, err := flatten(value, skip)
			if err != nil {
				return nil, err
			}
			args = append(args, nested...)

		case yaml.SequenceNode:
			args = append(args, flag)
			for _, item := range value.Content {
				item = resolve(item)
				if item.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("%s: list items must be scalars (line %d)", key, item.Line)
				}
				args = append(args, item.Value)
			}

		case yaml.ScalarNode:
			switch value.ShortTag() {
			case "!!null":
				continue
			case "!!bool":
				var on bool
				if err := value.Decode(&on); err != nil {
					return nil, fmt.Errorf("%s: %w", key, err)
				}
				if on {
					args = append(args, flag)
				}
			default:
				args = append(args, flag, value.Value)
			}
		}
	}
	return args, nil
}

// ForDevice selects the configuration for one device type: every top-level
// scalar or list is kept, the nested mapping named deviceType is merged in,
// and all other nested mappings are dropped. An empty deviceType returns the
// mapping unchanged.
func ForDevice(node *yaml.Node, deviceType string) (*yaml.Node, error) {
	m, err := mapping(node)
	if err != nil {
		return nil, err
	}
	if deviceType == "" {
		return m, nil
	}

	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	var device *yaml.Node
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, value := m.Content[i], resolve(m.Content[i+1])
		if value.Kind == yaml.MappingNode {
			if key.Value == deviceType {
				device = value
			}
			continue
		}
		out.Content = append(out.Content, key, value)
	}
	if device != nil {
		out.Content = append(out.Content, device.Content...)
	}
	return out, nil
}

// FlattenOverrides converts a mapping into Hydra-style overrides:
// "--config-path=..." and "--config-name=..." first, then "a.b=value" for
// nested keys. Keys under "append_kargs" are emitted as "+key=value" and
// lists as "key=[v1,v2]".
func FlattenOverrides(node *yaml.Node) ([]string, error) {
	m, err := mapping(node)
	if err != nil {
		return nil, err
	}

	var args []string
	for _, special := range []string{"config-path", "config-name"} {
		for i := 0; i+1 < len(m.Content); i += 2 {
			if m.Content[i].Value == special {
				args = append(args, fmt.Sprintf("--%s=%s", special, resolve(m.Content[i+1]).Value))
			}
		}
	}

	rest, err := overrides(m, "", true)
	if err != nil {
		return nil, err
	}
	return append(args, rest...), nil
}

func overrides(m *yaml.Node, prefix string, top bool) ([]string, error) {
	var args []string
	for i := 0; i+1 < len(m.Content); i += 2 {
		key := m.Content[i].Value
		if top && (key == "config-path" || key == "config-name") {
			continue
		}
		value := resolve(m.Content[i+1])

		switch value.Kind {
		case yaml.MappingNode:
			next := prefix + key + "."
			if key == "append_kargs" {
				next = "+"
			}
			nested, err := overrides(value, next, false)
			if err != nil {
				return nil, err
			}
			args = append(args, nested...)

		case yaml.SequenceNode:
			items := make([]string, 0, len(value.Content))
			for _, item := range value.Content {
				items = append(items, resolve(item).Value)
			}
			args = append(args, fmt.Sprintf("%s%s=[%s]", prefix, key, strings.Join(items, ",")))

		default:
			args = append(args, fmt.Sprintf("%s%s=%s", prefix, key, value.Value))
		}
	}
	return args, nil
}

// Parse decodes a YAML document into a node for the functions above.
func Parse(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	return &doc, nil
}
