// Package catalog holds the normalized set of purchasable upstream operations.
package catalog

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Param is one named operation parameter with its human-readable description.
type Param struct {
	Name        string
	Description string
}

// Params is an ordered parameter list. It marshals as a JSON object whose
// keys appear in declaration order, matching the order in the source schema.
type Params []Param

// MarshalJSON renders the list as {"name": "description", ...} preserving order.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(param.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(param.Description)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the description for a parameter name.
func (p Params) Get(name string) (string, bool) {
	for _, param := range p {
		if param.Name == name {
			return param.Description, true
		}
	}
	return "", false
}

// Operation is one normalized, callable upstream action derived from the
// schema. Params is descriptive metadata only — callers are never rejected
// for supplying unknown parameters or omitting listed ones.
type Operation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path"`
	Method      string `json:"method"`
	Params      Params `json:"params"`
}

// Catalog is the full in-memory set of operations for the process lifetime.
// It is built once before the server accepts traffic and never mutated, so
// concurrent reads need no locking.
type Catalog struct {
	ops  []Operation
	byID map[string]Operation
}

// New builds a Catalog from operations in load order.
func New(ops []Operation) *Catalog {
	byID := make(map[string]Operation, len(ops))
	for _, op := range ops {
		byID[op.ID] = op
	}
	return &Catalog{ops: ops, byID: byID}
}

// Search returns operations whose name or description contains the query,
// case-insensitively. An empty query returns the full catalog in load order.
func (c *Catalog) Search(query string) []Operation {
	if query == "" {
		return c.Operations()
	}
	q := strings.ToLower(query)
	var matched []Operation
	for _, op := range c.ops {
		if strings.Contains(strings.ToLower(op.Name), q) ||
			strings.Contains(strings.ToLower(op.Description), q) {
			matched = append(matched, op)
		}
	}
	return matched
}

// FindByID returns the operation with the exact id.
func (c *Catalog) FindByID(id string) (Operation, bool) {
	op, ok := c.byID[id]
	return op, ok
}

// Len returns the number of operations in the catalog.
func (c *Catalog) Len() int {
	return len(c.ops)
}

// Operations returns a copy of the full operation list in load order.
func (c *Catalog) Operations() []Operation {
	out := make([]Operation, len(c.ops))
	copy(out, c.ops)
	return out
}
