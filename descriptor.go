package colyseus

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// FieldKind classifies what a field's value holds, driving how the decoder
// reads and stores it.
type FieldKind uint8

const (
	FieldPrimitive FieldKind = iota
	FieldRef
	FieldArray
	FieldMap
)

// FieldDef is read-only metadata describing one field of a schema type.
// Static and dynamic descriptors both produce FieldDef values through the
// same Descriptor interface; only how the metadata was discovered differs.
//
// Grounded on original_source/include/colyseus/schema/types.h's
// colyseus_field_t, generalized per SPEC_FULL.md §4.6 so static and dynamic
// descriptors share one shape.
type FieldDef struct {
	Index          int
	Name           string
	Kind           FieldKind
	TypeString     string     // primitive type string, meaningful when Kind == FieldPrimitive
	Child          Descriptor // child schema descriptor, for Kind == FieldRef/Array/Map of refs
	ChildPrimitive string     // primitive type string for Kind == FieldArray/Map of primitives
}

// Descriptor is read-only metadata describing a schema type's fields and
// lifecycle: textual name, ordered field list, and a constructor for fresh
// instances. Static descriptors are built once from a tagged Go struct;
// dynamic descriptors are built incrementally from a server-sent reflection
// blob (§4.6). Both are interchangeable wherever the decoder needs type
// metadata.
type Descriptor interface {
	TypeName() string
	Fields() []FieldDef
	FieldByIndex(index int) (FieldDef, bool)
	FieldByName(name string) (FieldDef, bool)
	NewNode() *Node
}

// staticDescriptor is built once, via reflection, from a Go struct tagged
// with `colyseus:"<index>,<name>,<kind>[,<detail>]"` fields. Per-instance
// storage still goes through Node's uniform field-index map — the static
// form only changes where the *metadata* comes from, not how values are
// held, which keeps the decoder's write path identical for both forms.
type staticDescriptor struct {
	name       string
	fields     []FieldDef
	byIndex    map[int]FieldDef
	byName     map[string]FieldDef
	structType reflect.Type
}

func (d *staticDescriptor) TypeName() string { return d.name }
func (d *staticDescriptor) Fields() []FieldDef { return d.fields }
func (d *staticDescriptor) FieldByIndex(index int) (FieldDef, bool) {
	f, ok := d.byIndex[index]
	return f, ok
}
func (d *staticDescriptor) FieldByName(name string) (FieldDef, bool) {
	f, ok := d.byName[name]
	return f, ok
}
func (d *staticDescriptor) NewNode() *Node {
	return newNode(d)
}

var staticDescriptorCache sync.Map // reflect.Type -> *staticDescriptor

// RegisterStatic builds (or returns the cached) static descriptor for the
// Go struct type of sample, reflecting over its `colyseus` struct tags.
// Nested ref/array/map fields whose declared child is itself a tagged
// struct are resolved recursively and cached, so a schema tree only needs
// registering at its root.
//
// Grounded on glint's newDecoderUsingTag — a cached, tag-driven reflection
// walk performed once per Go type, never per frame.
func RegisterStatic(sample any) Descriptor {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return buildStaticDescriptor(t)
}

func buildStaticDescriptor(t reflect.Type) *staticDescriptor {
	if cached, ok := staticDescriptorCache.Load(t); ok {
		return cached.(*staticDescriptor)
	}
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("colyseus: RegisterStatic requires a struct, got %s", t.Kind()))
	}

	d := &staticDescriptor{
		name:       t.Name(),
		byIndex:    make(map[int]FieldDef),
		byName:     make(map[string]FieldDef),
		structType: t,
	}
	// Register before recursing into children so a self-referential schema
	// (a field whose child type is the type currently being built) resolves
	// against this same descriptor instead of recursing forever.
	staticDescriptorCache.Store(t, d)

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("colyseus")
		if tag == "" || tag == "-" {
			continue
		}
		fd := parseFieldTag(tag, sf)
		d.fields = append(d.fields, fd)
		d.byIndex[fd.Index] = fd
		d.byName[fd.Name] = fd
	}
	return d
}

// parseFieldTag parses `index,name,kind[,detail]` and resolves ref/array/map
// children from the Go field's declared type.
func parseFieldTag(tag string, sf reflect.StructField) FieldDef {
	parts := strings.Split(tag, ",")
	if len(parts) < 3 {
		panic(fmt.Sprintf("colyseus: malformed field tag %q on %s", tag, sf.Name))
	}
	index, err := strconv.Atoi(parts[0])
	if err != nil {
		panic(fmt.Sprintf("colyseus: malformed field index in tag %q on %s", tag, sf.Name))
	}

	fd := FieldDef{Index: index, Name: parts[1]}

	switch parts[2] {
	case "ref":
		fd.Kind = FieldRef
		fd.Child = buildStaticDescriptor(derefStructType(sf.Type))
	case "array":
		fd.Kind = FieldArray
		if len(parts) >= 4 && parts[3] != "" {
			fd.ChildPrimitive = parts[3]
		} else {
			fd.Child = buildStaticDescriptor(derefStructType(sf.Type))
		}
	case "map":
		fd.Kind = FieldMap
		if len(parts) >= 4 && parts[3] != "" {
			fd.ChildPrimitive = parts[3]
		} else {
			fd.Child = buildStaticDescriptor(derefStructType(sf.Type))
		}
	default:
		fd.Kind = FieldPrimitive
		fd.TypeString = parts[2]
	}
	return fd
}

func derefStructType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// DynamicDescriptor is built incrementally from a server-sent reflection
// blob: fields are appended as they are discovered, keyed by index, with no
// backing Go struct at all. Exported (rather than the unexported shape a
// purely-internal descriptor would use) so a host binding can reach past
// the Descriptor interface and set its lifecycle hooks.
//
// Grounded on original_source/include/colyseus/schema/dynamic_schema.h's
// colyseus_dynamic_schema_t / colyseus_dynamic_field_t, whose
// create_instance/set_field/free_instance function pointers let a host
// (GameMaker/Godot/Raylib in the original) mirror a dynamically-discovered
// node into its own object model. This port carries the same three hooks
// as plain optional func fields — per §9's "replace vtables with a sum
// type or trait" note, a settable func field is the idiomatic Go rendition
// of a single-slot function pointer, the same choice room.go's Signal<T>
// rendition makes.
type DynamicDescriptor struct {
	name    string
	fields  []FieldDef
	byIndex map[int]FieldDef
	byName  map[string]FieldDef

	// CreateInstance, when set, builds the host-side mirror object for a
	// freshly-discovered node of this type.
	CreateInstance func() any
	// SetField, when set, is called after every field write so the host
	// mirror stays in sync (name, decoded value).
	SetField func(instance any, name string, value any)
	// FreeInstance, when set, is called when the tracker GCs a node of
	// this type, releasing the host-side mirror.
	FreeInstance func(instance any)
}

// NewDynamicDescriptor returns an empty descriptor for a server type
// discovered during the handshake (§4.6) that has no matching local static
// descriptor.
func NewDynamicDescriptor(name string) Descriptor {
	return &DynamicDescriptor{
		name:    name,
		byIndex: make(map[int]FieldDef),
		byName:  make(map[string]FieldDef),
	}
}

// AddField appends one field to a dynamic descriptor. Called while walking
// the reflection blob's types[].fields[] array.
func (d *DynamicDescriptor) AddField(fd FieldDef) {
	d.fields = append(d.fields, fd)
	d.byIndex[fd.Index] = fd
	d.byName[fd.Name] = fd
}

func (d *DynamicDescriptor) TypeName() string { return d.name }
func (d *DynamicDescriptor) Fields() []FieldDef { return d.fields }
func (d *DynamicDescriptor) FieldByIndex(index int) (FieldDef, bool) {
	f, ok := d.byIndex[index]
	return f, ok
}
func (d *DynamicDescriptor) FieldByName(name string) (FieldDef, bool) {
	f, ok := d.byName[name]
	return f, ok
}
func (d *DynamicDescriptor) NewNode() *Node {
	n := newNode(d)
	if d.CreateInstance != nil {
		n.HostInstance = d.CreateInstance()
	}
	return n
}

// Bind reflect-copies a Node's current field values into a zero value of T,
// matching fields by the same `colyseus` tag used to build T's static
// descriptor. It is a convenience for application code that would rather
// work with a concrete Go struct than call Node.Get by index; the decoder
// itself never uses it; Node's storage is the source of truth.
func Bind[T any](n *Node) T {
	var out T
	v := reflect.ValueOf(&out).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("colyseus")
		if tag == "" || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		index, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		val, ok := n.Get(index)
		if !ok || val == nil {
			continue
		}
		rv := reflect.ValueOf(val)
		field := v.Field(i)
		if rv.Type().AssignableTo(field.Type()) {
			field.Set(rv)
		} else if rv.Type().ConvertibleTo(field.Type()) {
			field.Set(rv.Convert(field.Type()))
		}
	}
	return out
}
