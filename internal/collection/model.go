// Package collection implements the Store's core: per-collection
// create/list/read/createRevision/listRevisions/readRevisions/
// readLatestRevisions operations over a tree of nested child
// collections.
package collection

import (
	"clinistore/internal/schema"
)

// Model is a compiled model definition wired into its place in the
// ancestor tree. Build a tree top-down with NewModel, passing each
// child's parent; a Model with no Parent is a top-level collection
// rooted directly under the data directory.
type Model struct {
	Name           string
	CollectionName string
	Mutable        bool

	Parent   *Model
	Children map[string]*Model

	compiled *schema.Compiled
}

// NewModel compiles def's schema (with ancestor metadata fields
// inferred from parent) and returns the new Model, already attached as
// parent.Children[collectionName] when parent is non-nil.
func NewModel(compiler *schema.Compiler, name, collectionName string, mutable bool, fields []schema.Field, parent *Model) (*Model, error) {
	m := &Model{
		Name:           name,
		CollectionName: collectionName,
		Mutable:        mutable,
		Parent:         parent,
		Children:       make(map[string]*Model),
	}

	def := schema.ModelDefinition{
		Name:      name,
		Fields:    fields,
		Ancestors: m.AncestorNames(),
		Mutable:   mutable,
	}
	compiled, err := compiler.Compile(def)
	if err != nil {
		return nil, err
	}
	m.compiled = compiled

	if parent != nil {
		parent.Children[collectionName] = m
	}
	return m, nil
}

// AncestorNames returns this model's ancestor model names, outermost
// first (not including itself).
func (m *Model) AncestorNames() []string {
	var names []string
	for p := m.Parent; p != nil; p = p.Parent {
		names = append([]string{p.Name}, names...)
	}
	return names
}

// AncestorCollectionNames returns the physical collection folder names
// of this model's ancestors, outermost first.
func (m *Model) AncestorCollectionNames() []string {
	var names []string
	for p := m.Parent; p != nil; p = p.Parent {
		names = append([]string{p.CollectionName}, names...)
	}
	return names
}

// Depth is the number of ancestors (0 for a top-level model).
func (m *Model) Depth() int { return len(m.AncestorNames()) }

// IndexedFields returns the declared fields that form this model's
// object-directory name, in declaration order.
func (m *Model) IndexedFields() []schema.Field {
	return m.compiled.Definition().IndexedFields()
}

// Schema returns the compiled schema used to validate instances of
// this model.
func (m *Model) Schema() *schema.Compiled { return m.compiled }
