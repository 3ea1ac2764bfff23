package reflection

import (
	"maps"
	"slices"

	"github.com/samber/lo"
)

// Index is the merged, read-only view over a live schema and its defaults.
// Classes live in an arena slice; superclass links are resolved by name on
// each walk, so a dangling superclass simply ends the chain.
type Index struct {
	classes  []Class
	byName   map[string]int
	enums    map[string]*Enum
	version  Version
	warnings []string
}

// NewIndex merges live with defaults. Every live class whose name also appears
// in defaults receives that class's default-property map, and each of its
// members without an explicit default is back-filled from it. Inputs are not
// modified.
func NewIndex(live, defaults Schema) *Index {
	defaultsByName := make(map[string]*Class, len(defaults.Classes))
	for i := range defaults.Classes {
		defaultsByName[defaults.Classes[i].Name] = &defaults.Classes[i]
	}

	idx := &Index{
		classes: make([]Class, 0, len(live.Classes)),
		byName:  make(map[string]int, len(live.Classes)),
		enums:   make(map[string]*Enum, len(live.Enums)),
		version: live.Version,
	}
	idx.warnings = append(idx.warnings, live.Warnings...)
	idx.warnings = append(idx.warnings, defaults.Warnings...)

	for _, src := range live.Classes {
		class := src
		class.Members = slices.Clone(src.Members)
		class.DefaultProperties = maps.Clone(src.DefaultProperties)

		if dc, ok := defaultsByName[class.Name]; ok && dc.DefaultProperties != nil {
			class.DefaultProperties = maps.Clone(dc.DefaultProperties)
			for i := range class.Members {
				m := &class.Members[i]
				if m.DefaultValue != nil {
					continue
				}
				if v, ok := class.DefaultProperties[m.Name]; ok {
					m.DefaultValue = &v
				}
			}
		}

		if _, dup := idx.byName[class.Name]; dup {
			idx.warnings = append(idx.warnings, "duplicate class "+class.Name+" ignored")
			continue
		}
		idx.byName[class.Name] = len(idx.classes)
		idx.classes = append(idx.classes, class)
	}

	for i := range live.Enums {
		e := live.Enums[i]
		idx.enums[e.Name] = &e
	}
	return idx
}

// FromDump builds an index from a full reflection document.
func FromDump(d *Dump) *Index {
	if d == nil {
		return NewIndex(Schema{}, Schema{})
	}
	return NewIndex(d.API, d.Defaults)
}

// walk visits className and then each ancestor in order until visit returns
// false, the chain ends, or a class repeats.
func (idx *Index) walk(className string, visit func(*Class) bool) {
	visited := make(map[int]struct{})
	i, ok := idx.byName[className]
	for ok {
		if _, loop := visited[i]; loop {
			return
		}
		visited[i] = struct{}{}
		c := &idx.classes[i]
		if !visit(c) {
			return
		}
		i, ok = idx.byName[c.Superclass]
	}
}

// GetClass returns the class named name. The returned value shares its
// slices and maps with the index and must be treated as read-only.
func (idx *Index) GetClass(name string) (Class, bool) {
	i, ok := idx.byName[name]
	if !ok {
		return Class{}, false
	}
	return idx.classes[i], true
}

// GetMembers returns the class's own members followed by inherited members not
// already present by name. Unknown classes yield nil.
func (idx *Index) GetMembers(className string) []Member {
	var out []Member
	seen := make(map[string]struct{})
	idx.walk(className, func(c *Class) bool {
		for _, m := range c.Members {
			if _, shadowed := seen[m.Name]; shadowed {
				continue
			}
			seen[m.Name] = struct{}{}
			out = append(out, m)
		}
		return true
	})
	return out
}

// GetDefaultValue looks for a default for memberName on className, then on
// each ancestor.
func (idx *Index) GetDefaultValue(className, memberName string) (PropertyValue, bool) {
	var (
		found PropertyValue
		ok    bool
	)
	idx.walk(className, func(c *Class) bool {
		if m, has := c.member(memberName); has && m.DefaultValue != nil {
			found, ok = *m.DefaultValue, true
			return false
		}
		if v, has := c.DefaultProperties[memberName]; has {
			found, ok = v, true
			return false
		}
		return true
	})
	return found, ok
}

func (idx *Index) GetEnum(name string) (Enum, bool) {
	e, ok := idx.enums[name]
	if !ok {
		return Enum{}, false
	}
	return *e, true
}

// EnumKey selects an enum item either by name or by numeric value.
type EnumKey struct {
	name    string
	value   int64
	byValue bool
}

func EnumItemName(name string) EnumKey { return EnumKey{name: name} }

func EnumItemValue(v int64) EnumKey { return EnumKey{value: v, byValue: true} }

func (k EnumKey) matches(item EnumItem) bool {
	if k.byValue {
		return item.Value == k.value
	}
	return item.Name == k.name
}

// GetEnumItem returns the first item of enumName matching key.
func (idx *Index) GetEnumItem(enumName string, key EnumKey) (EnumItem, bool) {
	e, ok := idx.enums[enumName]
	if !ok {
		return EnumItem{}, false
	}
	return lo.Find(e.Items, key.matches)
}

// SortOrder returns the explorer sort order of className.
func (idx *Index) SortOrder(className string) (int, bool) {
	i, ok := idx.byName[className]
	if !ok || !idx.classes[i].HasSortOrder {
		return 0, false
	}
	return idx.classes[i].SortOrder, true
}

// ClassNames returns every class name, sorted.
func (idx *Index) ClassNames() []string {
	names := lo.Keys(idx.byName)
	slices.Sort(names)
	return names
}

func (idx *Index) Version() Version { return idx.version }

// Warnings lists entries dropped while decoding or merging.
func (idx *Index) Warnings() []string { return slices.Clone(idx.warnings) }

// Len returns the number of classes.
func (idx *Index) Len() int { return len(idx.classes) }
