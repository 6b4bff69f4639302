package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every configuration validation error.
var ErrInvalid = errors.New("invalid configuration")

// Kind identifies which variant of the tagged union a Node holds.
type Kind int

const (
	KindScalar Kind = iota
	KindArray
	KindHash
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindArray:
		return "array"
	case KindHash:
		return "hash"
	default:
		return "unknown"
	}
}

// Node is one value of the configuration tree: a scalar, an array of nodes
// or an ordered hash of nodes. Plugins receive their own subtree and build a
// typed projection from it while they are being configured.
type Node struct {
	kind   Kind
	scalar string
	items  []*Node
	keys   []string
	hash   map[string]*Node
	line   int
}

// Scalar builds a scalar node.
func Scalar(v string) *Node {
	return &Node{kind: KindScalar, scalar: v}
}

// Array builds an array node.
func Array(items ...*Node) *Node {
	return &Node{kind: KindArray, items: items}
}

// Hash builds an empty hash node; use Set to populate it in order.
func Hash() *Node {
	return &Node{kind: KindHash, hash: make(map[string]*Node)}
}

// Set adds or replaces a hash entry, keeping first-insertion order.
func (n *Node) Set(key string, v *Node) *Node {
	if _, exists := n.hash[key]; !exists {
		n.keys = append(n.keys, key)
	}
	n.hash[key] = v
	return n
}

// Parse decodes YAML into a Node tree.
func Parse(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc.Kind == 0 {
		return Hash(), nil
	}
	return fromYAML(&doc)
}

func fromYAML(y *yaml.Node) (*Node, error) {
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return Hash(), nil
		}
		return fromYAML(y.Content[0])
	case yaml.AliasNode:
		return fromYAML(y.Alias)
	case yaml.ScalarNode:
		return &Node{kind: KindScalar, scalar: y.Value, line: y.Line}, nil
	case yaml.SequenceNode:
		n := &Node{kind: KindArray, line: y.Line}
		for _, c := range y.Content {
			item, err := fromYAML(c)
			if err != nil {
				return nil, err
			}
			n.items = append(n.items, item)
		}
		return n, nil
	case yaml.MappingNode:
		n := Hash()
		n.line = y.Line
		for i := 0; i+1 < len(y.Content); i += 2 {
			k, v := y.Content[i], y.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("%w: line %d: hash keys must be scalars", ErrInvalid, k.Line)
			}
			if _, dup := n.hash[k.Value]; dup {
				return nil, fmt.Errorf("%w: line %d: duplicate key %q", ErrInvalid, k.Line, k.Value)
			}
			child, err := fromYAML(v)
			if err != nil {
				return nil, err
			}
			n.Set(k.Value, child)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: line %d: unsupported YAML node", ErrInvalid, y.Line)
	}
}

// Kind returns the variant held by n. A nil node is an empty hash.
func (n *Node) Kind() Kind {
	if n == nil {
		return KindHash
	}
	return n.kind
}

// Line is the source line the node came from, or 0 for built nodes.
func (n *Node) Line() int {
	if n == nil {
		return 0
	}
	return n.line
}

// Len returns the number of array items or hash entries.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	switch n.kind {
	case KindArray:
		return len(n.items)
	case KindHash:
		return len(n.keys)
	default:
		return 0
	}
}

// Keys returns hash keys in source order.
func (n *Node) Keys() []string {
	if n == nil || n.kind != KindHash {
		return nil
	}
	return n.keys
}

// Get looks up a hash key.
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || n.kind != KindHash {
		return nil, false
	}
	v, ok := n.hash[key]
	return v, ok
}

// Items returns array items. A scalar is treated as a one-element array,
// which lets configuration accept either "x" or ["x"].
func (n *Node) Items() []*Node {
	if n == nil {
		return nil
	}
	switch n.kind {
	case KindArray:
		return n.items
	case KindScalar:
		return []*Node{n}
	default:
		return nil
	}
}

// Value returns the scalar text.
func (n *Node) Value() (string, error) {
	if n == nil || n.kind != KindScalar {
		return "", n.errorf("expected a scalar, got %s", n.Kind())
	}
	return n.scalar, nil
}

// Strings returns the scalar items of an array (or a lone scalar).
func (n *Node) Strings() ([]string, error) {
	items := n.Items()
	if items == nil && n != nil && n.kind == KindHash {
		return nil, n.errorf("expected an array, got hash")
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		v, err := it.Value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// String returns the scalar at key, or def when key is absent.
func (n *Node) String(key, def string) (string, error) {
	v, ok := n.Get(key)
	if !ok {
		return def, nil
	}
	return v.Value()
}

// Int returns the integer at key, or def when key is absent.
func (n *Node) Int(key string, def int) (int, error) {
	v, ok := n.Get(key)
	if !ok {
		return def, nil
	}
	s, err := v.Value()
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, v.errorf("%s: expected an integer, got %q", key, s)
	}
	return i, nil
}

// IntRange is Int with an inclusive bounds check.
func (n *Node) IntRange(key string, def, min, max int) (int, error) {
	i, err := n.Int(key, def)
	if err != nil {
		return 0, err
	}
	if i < min || i > max {
		return 0, n.errorf("%s: value %d out of range [%d, %d]", key, i, min, max)
	}
	return i, nil
}

// Float returns the float at key, or def when key is absent.
func (n *Node) Float(key string, def float64) (float64, error) {
	v, ok := n.Get(key)
	if !ok {
		return def, nil
	}
	s, err := v.Value()
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, v.errorf("%s: expected a number, got %q", key, s)
	}
	return f, nil
}

// Bool returns the boolean at key, or def when key is absent.
func (n *Node) Bool(key string, def bool) (bool, error) {
	v, ok := n.Get(key)
	if !ok {
		return def, nil
	}
	s, err := v.Value()
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, v.errorf("%s: expected a boolean, got %q", key, s)
	}
	return b, nil
}

// Duration returns the duration at key, or def when key is absent. Bare
// integers are seconds.
func (n *Node) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := n.Get(key)
	if !ok {
		return def, nil
	}
	s, err := v.Value()
	if err != nil {
		return 0, err
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, v.errorf("%s: expected a duration, got %q", key, s)
	}
	return d, nil
}

// CheckKeys rejects any hash key not in allowed.
func (n *Node) CheckKeys(allowed ...string) error {
	if n == nil || n.kind != KindHash {
		return nil
	}
	var unknown []string
	for _, k := range n.keys {
		found := false
		for _, a := range allowed {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return n.errorf("unknown key(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

// Errorf builds an ErrInvalid-wrapping error annotated with n's line.
func (n *Node) Errorf(format string, args ...any) error {
	return n.errorf(format, args...)
}

func (n *Node) errorf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if line := n.Line(); line > 0 {
		return fmt.Errorf("%w: line %d: %s", ErrInvalid, line, msg)
	}
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}
