// Package schema compiles model definitions into CUE schemas and
// validates objects against them. Every schema is a closed
// struct: unknown fields are rejected, optional fields are marked with
// CUE's "?", and at construction time every schema is silently
// augmented with the store's metadata fields.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"clinistore/internal/clock"
	"clinistore/internal/errs"
)

// FieldType is one of the primitive types a model field can declare.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeInt       FieldType = "int"
	TypeFloat     FieldType = "float"
	TypeBool      FieldType = "bool"
	TypeTimestamp FieldType = "timestamp"
)

// Field is one declared field of a model.
type Field struct {
	Name     string
	Type     FieldType
	Optional bool
	// Indexed marks a field as part of the object-directory name.
	// Indexed fields must not be Optional.
	Indexed bool
}

// ModelDefinition describes one collection's schema, independent of
// where in the ancestor tree it sits.
type ModelDefinition struct {
	Name      string
	Fields    []Field
	Ancestors []string // ancestor model names, outermost first
	Mutable   bool
}

// MetadataFields returns the fields every schema gains at compile time:
// id, revisionId, timestamp, author, and one "<ancestor>Id" per
// ancestor.
func (m ModelDefinition) MetadataFields() []Field {
	fields := []Field{
		{Name: "id", Type: TypeString},
		{Name: "revisionId", Type: TypeString},
		{Name: "timestamp", Type: TypeTimestamp},
		{Name: "author", Type: TypeString},
	}
	for _, ancestor := range m.Ancestors {
		fields = append(fields, Field{Name: ancestor + "Id", Type: TypeString})
	}
	return fields
}

// IndexedFields returns the declared fields marked Indexed, in
// declaration order — these form the object-directory name.
func (m ModelDefinition) IndexedFields() []Field {
	var out []Field
	for _, f := range m.Fields {
		if f.Indexed {
			out = append(out, f)
		}
	}
	return out
}

// Compiler builds Compiled schemas from ModelDefinitions using a
// shared CUE context.
type Compiler struct {
	ctx *cue.Context
}

// NewCompiler creates a Compiler.
func NewCompiler() *Compiler {
	return &Compiler{ctx: cuecontext.New()}
}

// Compiled is a model's schema, ready to validate instances.
type Compiled struct {
	def        ModelDefinition
	schemaExpr cue.Value
	ctx        *cue.Context
}

// Compile builds the closed-struct CUE schema for def, augmented with
// metadata fields.
func (c *Compiler) Compile(def ModelDefinition) (*Compiled, error) {
	all := append(append([]Field{}, def.Fields...), def.MetadataFields()...)

	seen := make(map[string]bool, len(all))
	var b strings.Builder
	b.WriteString("#Schema: close({\n")
	for _, f := range all {
		if seen[f.Name] {
			return nil, errs.New(errs.KindValidation, fmt.Sprintf("duplicate field %q in model %q", f.Name, def.Name))
		}
		seen[f.Name] = true

		name := f.Name
		if f.Optional {
			name += "?"
		}
		fmt.Fprintf(&b, "\t%s: %s\n", name, cueType(f.Type))
	}
	b.WriteString("})")

	v := c.ctx.CompileString(b.String())
	if v.Err() != nil {
		return nil, errs.Wrap(errs.KindValidation, "compiling schema for "+def.Name, v.Err())
	}
	schemaDef := v.LookupPath(cue.ParsePath("#Schema"))
	if schemaDef.Err() != nil {
		return nil, errs.Wrap(errs.KindValidation, "resolving schema for "+def.Name, schemaDef.Err())
	}

	return &Compiled{def: def, schemaExpr: schemaDef, ctx: c.ctx}, nil
}

func cueType(t FieldType) string {
	switch t {
	case TypeString, TypeTimestamp:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "number"
	case TypeBool:
		return "bool"
	default:
		return "_"
	}
}

// Validate checks obj (already JSON-marshalable) against the compiled
// schema: unknown fields are rejected, required fields must be
// present, and string-typed timestamp fields must parse with
// clock.ParseTimestamp. Returns a ValidationError on any failure.
func (c *Compiled) Validate(obj map[string]any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errs.Wrap(errs.KindValidation, "marshaling object for validation", err)
	}

	instance := c.ctx.CompileBytes(data)
	if instance.Err() != nil {
		return errs.Wrap(errs.KindValidation, "parsing object", instance.Err())
	}

	// schemaExpr is already a closed struct (see Compile); unifying a
	// field the schema doesn't declare is a hard CUE error, which is
	// exactly the "unknown fields rejected" behavior wants.
	unified := c.schemaExpr.Unify(instance)
	if err := unified.Validate(cue.Concrete(true), cue.All()); err != nil {
		return errs.Wrap(errs.KindValidation, "validating "+c.def.Name, err)
	}

	for _, f := range c.allFields() {
		if f.Type != TypeTimestamp {
			continue
		}
		raw, ok := obj[f.Name]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return errs.New(errs.KindValidation, "field "+f.Name+" must be a string timestamp")
		}
		if _, err := clock.ParseTimestamp(s); err != nil {
			return errs.Wrap(errs.KindValidation, "field "+f.Name+" is not a valid timestamp", err)
		}
	}

	return nil
}

func (c *Compiled) allFields() []Field {
	return append(append([]Field{}, c.def.Fields...), c.def.MetadataFields()...)
}

// Definition returns the underlying model definition.
func (c *Compiled) Definition() ModelDefinition { return c.def }
