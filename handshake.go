package colyseus

import (
	"fmt"
	"strings"
)

// Once per connection the server sends a reflection blob describing every
// schema type it may reference, encoded in the same wire protocol as any
// other frame (§4.6). This file decodes that blob with a fixed built-in
// schema and matches each server type against the user-supplied root
// descriptor (and everything transitively reachable from it).

// reflectionField mirrors one entry of a server ReflectionType's fields[].
// Tagged purely so RegisterStatic can build a Descriptor for it; Node
// storage (not this struct) is what the decoder actually populates.
type reflectionField struct {
	Name           string `colyseus:"0,name,string"`
	TypeString     string `colyseus:"1,type,string"`
	ReferencedType int64  `colyseus:"2,referencedType,number"`
}

// reflectionType mirrors one server-described schema type.
type reflectionType struct {
	ID        int64             `colyseus:"0,id,number"`
	ExtendsID int64             `colyseus:"1,extendsId,number"`
	Fields    *reflectionField  `colyseus:"2,fields,array,"`
}

// reflectionSchema is the root of the handshake blob.
type reflectionSchema struct {
	Types    *reflectionType `colyseus:"0,types,array,"`
	RootType int64           `colyseus:"1,rootType,number"`
}

// ReflectionField is the plain-data form of a decoded server field
// description, read back out of the temporary node graph built while
// decoding the handshake blob.
type ReflectionField struct {
	Name           string
	TypeString     string
	ReferencedType int64
}

// ReflectionType is the plain-data form of a decoded server type
// description.
type ReflectionType struct {
	ID        int64
	ExtendsID int64
	Fields    []ReflectionField
}

// Reflection is the fully decoded handshake payload.
type Reflection struct {
	Types    []ReflectionType
	RootType int64
}

// noExtends is the sentinel the server uses in extendsId to mean "no base
// type" — negative, since valid type ids are assigned starting at 0.
const noExtends = -1

// DecodeHandshake decodes a HANDSHAKE frame payload (§6) using the fixed
// built-in reflection schema, independent of any user-supplied descriptor.
func DecodeHandshake(data []byte) (*Reflection, error) {
	if err := checkLimit(uint32(len(data)), DefaultLimits.MaxSchemaBlobLen, "handshake blob length"); err != nil {
		return nil, err
	}

	dec := NewDecoder(RegisterStatic(reflectionSchema{}))
	if _, err := dec.Decode(data); err != nil {
		return nil, err
	}

	root := dec.State()
	out := &Reflection{}

	if v, ok := root.GetByName("rootType"); ok && v != nil {
		out.RootType = toInt64(v)
	}

	typesVal, _ := root.GetByName("types")
	typesList, _ := typesVal.(*ArraySchema)
	if typesList == nil {
		return out, nil
	}

	for _, idx := range typesList.Indexes() {
		v, _ := typesList.At(idx)
		node, ok := v.(*Node)
		if !ok {
			continue
		}
		rt := ReflectionType{}
		if id, ok := node.GetByName("id"); ok && id != nil {
			rt.ID = toInt64(id)
		}
		rt.ExtendsID = noExtends
		if ext, ok := node.GetByName("extendsId"); ok && ext != nil {
			rt.ExtendsID = toInt64(ext)
		}
		if fv, ok := node.GetByName("fields"); ok && fv != nil {
			if fieldsList, ok := fv.(*ArraySchema); ok {
				for _, fi := range fieldsList.Indexes() {
					fval, _ := fieldsList.At(fi)
					fnode, ok := fval.(*Node)
					if !ok {
						continue
					}
					rf := ReflectionField{}
					if name, ok := fnode.GetByName("name"); ok && name != nil {
						rf.Name, _ = name.(string)
					}
					if ts, ok := fnode.GetByName("type"); ok && ts != nil {
						rf.TypeString, _ = ts.(string)
					}
					if ref, ok := fnode.GetByName("referencedType"); ok && ref != nil {
						rf.ReferencedType = toInt64(ref)
					}
					rt.Fields = append(rt.Fields, rf)
				}
			}
		}
		out.Types = append(out.Types, rt)
	}
	return out, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// inheritedFields walks a type's extendsId chain (base types first) and
// returns its full field list, per §4.6's "same total field count (after
// walking extendsId chain for inherited fields)" match condition.
func inheritedFields(types []ReflectionType, rt ReflectionType) []ReflectionField {
	byID := make(map[int64]ReflectionType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}

	var chain []ReflectionType
	seen := make(map[int64]struct{})
	cur := rt
	for {
		chain = append([]ReflectionType{cur}, chain...)
		if cur.ExtendsID == noExtends || cur.ExtendsID == cur.ID {
			break
		}
		if _, loop := seen[cur.ExtendsID]; loop {
			break
		}
		seen[cur.ID] = struct{}{}
		parent, ok := byID[cur.ExtendsID]
		if !ok {
			break
		}
		cur = parent
	}

	var fields []ReflectionField
	for _, t := range chain {
		fields = append(fields, t.Fields...)
	}
	return fields
}

// localTypeString returns the wire type-string a local FieldDef would be
// expected to match against a reflection field's TypeString, per §4.6's
// prefix-match rule (e.g. "ref:3" on the wire matches local "ref").
func localTypeString(fd FieldDef) string {
	switch fd.Kind {
	case FieldRef:
		return "ref"
	case FieldArray:
		return "array"
	case FieldMap:
		return "map"
	default:
		return fd.TypeString
	}
}

// descriptorMatches reports whether descriptor matches a server type's
// full field list per §4.6: same total field count, and for each local
// field a reflection field with equal index and name whose type string has
// the local type string as a prefix.
func descriptorMatches(d Descriptor, serverFields []ReflectionField) bool {
	localFields := d.Fields()
	if len(localFields) != len(serverFields) {
		return false
	}
	for _, lf := range localFields {
		if lf.Index < 0 || lf.Index >= len(serverFields) {
			return false
		}
		sf := serverFields[lf.Index]
		if sf.Name != lf.Name {
			return false
		}
		want := localTypeString(lf)
		if !hasPrefix(sf.TypeString, want) {
			return false
		}
	}
	return true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// collectDescriptors walks a descriptor and every ref/array/map child
// transitively reachable from it, deduplicating by TypeName so a
// self-referential or mutually-recursive schema tree terminates.
func collectDescriptors(root Descriptor) []Descriptor {
	seen := make(map[string]Descriptor)
	var walk func(d Descriptor)
	walk = func(d Descriptor) {
		if d == nil {
			return
		}
		if _, ok := seen[d.TypeName()]; ok {
			return
		}
		seen[d.TypeName()] = d
		for _, fd := range d.Fields() {
			if fd.Child != nil {
				walk(fd.Child)
			}
		}
	}
	walk(root)
	out := make([]Descriptor, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out
}

// fieldKindAndDetail splits a reflection field's wire type string on its
// first ':', per §4.6's "ref:3" example — the part before the colon names
// the field kind, the part after (when present) is a primitive hint used
// when the field turns out to have no schema-typed child.
func fieldKindAndDetail(typeString string) (base, detail string) {
	if i := strings.IndexByte(typeString, ':'); i >= 0 {
		return typeString[:i], typeString[i+1:]
	}
	return typeString, ""
}

// MatchHandshake matches each server-described type in reflection against
// rootDescriptor and everything transitively reachable from it, returning
// the server-type-id → local-descriptor bindings a Decoder should register
// via RegisterType. A server type with no matching local descriptor is not
// dropped — per §4.6, it is instead represented purely by a DynamicDescriptor
// built from the reflection blob itself, so the client can still observe
// fields it never declared a Go type for; only an entirely unknown
// referencedType (absent from the handshake altogether) falls back to the
// statically declared child descriptor at the field site.
func MatchHandshake(reflection *Reflection, rootDescriptor Descriptor) map[uint32]Descriptor {
	candidates := collectDescriptors(rootDescriptor)

	byID := make(map[int64]ReflectionType, len(reflection.Types))
	for _, rt := range reflection.Types {
		byID[rt.ID] = rt
	}

	result := make(map[uint32]Descriptor)
	building := make(map[int64]*DynamicDescriptor)

	var resolve func(id int64) Descriptor
	resolve = func(id int64) Descriptor {
		if d, ok := result[uint32(id)]; ok {
			return d
		}
		if d, ok := building[id]; ok {
			return d
		}
		rt, ok := byID[id]
		if !ok {
			return nil
		}

		fields := inheritedFields(reflection.Types, rt)
		for _, d := range candidates {
			if descriptorMatches(d, fields) {
				result[uint32(id)] = d
				return d
			}
		}

		dd := NewDynamicDescriptor(fmt.Sprintf("dynamic_%d", id)).(*DynamicDescriptor)
		building[id] = dd
		for idx, sf := range fields {
			fd := dynamicFieldDef(sf, resolve)
			fd.Index = idx
			dd.AddField(fd)
		}
		delete(building, id)
		result[uint32(id)] = dd
		return dd
	}

	for _, rt := range reflection.Types {
		resolve(rt.ID)
	}
	return result
}

// dynamicFieldDef converts one reflection field description into a FieldDef
// for a DynamicDescriptor, recursively resolving ref/array/map children by
// their referencedType id via resolve.
func dynamicFieldDef(rf ReflectionField, resolve func(int64) Descriptor) FieldDef {
	fd := FieldDef{Name: rf.Name}
	base, detail := fieldKindAndDetail(rf.TypeString)

	switch base {
	case "ref":
		fd.Kind = FieldRef
		fd.Child = resolve(rf.ReferencedType)
	case "array":
		fd.Kind = FieldArray
		if child := resolve(rf.ReferencedType); child != nil {
			fd.Child = child
		} else {
			fd.ChildPrimitive = detail
		}
	case "map":
		fd.Kind = FieldMap
		if child := resolve(rf.ReferencedType); child != nil {
			fd.Child = child
		} else {
			fd.ChildPrimitive = detail
		}
	default:
		fd.Kind = FieldPrimitive
		fd.TypeString = base
	}
	return fd
}
