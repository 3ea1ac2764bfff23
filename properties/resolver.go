// Package properties computes the property view shown for one instance: every
// visible member of its class chain, with the instance's own value, the class
// default, or an unknown placeholder, grouped by category.
package properties

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"github.com/slighter12/rojo-bridge-go/reflection"
	"github.com/slighter12/rojo-bridge-go/rojo"
)

// excludedMembers are engine-internal or identity members never shown.
var excludedMembers = map[string]struct{}{
	"Source": {}, "className": {}, "RobloxLocked": {}, "Parent": {}, "ClassName": {}, "Name": {},
	"ResizeIncrement": {}, "ResizeableFaces": {}, "Terrain": {},
	"Archivable": {}, "TemporaryLegacyPhysicsSolverOverride": {}, "PrimaryPart": {},
	"CurrentCamera": {}, "Mass": {}, "CenterOfMass": {}, "MaxExtents": {}, "CurrentEditor": {},
	"IsDifferentFromFileSystem": {}, "RotVelocity": {}, "LinkedSource": {},
}

// terrainMembers is the complete set of members shown for Terrain.
var terrainMembers = map[string]struct{}{
	"MaterialColors": {}, "Decoration": {}, "WaterColor": {}, "WaterReflectance": {},
	"WaterTransparency": {}, "WaterWaveSize": {}, "WaterWaveSpeed": {},
	"CollisionGroupId": {}, "CustomPhysicalProperties": {},
}

const (
	terrainClass   = "Terrain"
	dataModelClass = "DataModel"
	unknownType    = "unknown"
)

// Property is one resolved member.
type Property struct {
	Name  string                   `json:"name" yaml:"name"`
	Type  string                   `json:"type" yaml:"type"`
	Value reflection.PropertyValue `json:"value" yaml:"-"`
	// Enum is "EnumName.ItemName" for enum-typed members whose value
	// matches an item; empty otherwise.
	Enum    string `json:"enum,omitempty" yaml:"enum,omitempty"`
	Display string `json:"display" yaml:"display"`
}

type Category struct {
	Name       string     `json:"name" yaml:"name"`
	Properties []Property `json:"properties" yaml:"properties"`
}

// Visible reports whether member is shown for instances of className.
func Visible(className string, member reflection.Member) bool {
	if member.HasTag(reflection.TagHidden) || member.HasTag(reflection.TagDeprecated) {
		return false
	}
	if member.Kind == reflection.MemberFunction || member.Kind == reflection.MemberEvent || member.Kind == reflection.MemberCallback {
		return false
	}
	if className == terrainClass {
		_, shown := terrainMembers[member.Name]
		return shown
	}
	_, excluded := excludedMembers[member.Name]
	return !excluded
}

// Resolve builds the grouped property view of inst. Categories and the
// properties inside them are sorted by name. The result depends only on
// its inputs.
func Resolve(idx *reflection.Index, inst rojo.Instance) []Category {
	if idx == nil || inst.ClassName == dataModelClass {
		return []Category{}
	}

	visible := lo.Filter(idx.GetMembers(inst.ClassName), func(m reflection.Member, _ int) bool {
		return Visible(inst.ClassName, m)
	})
	grouped := lo.GroupBy(visible, func(m reflection.Member) string { return m.Category })

	categories := make([]Category, 0, len(grouped))
	for name, members := range grouped {
		props := lo.Map(members, func(m reflection.Member, _ int) Property {
			return resolveMember(idx, inst, m)
		})
		slices.SortStableFunc(props, func(a, b Property) int { return cmp.Compare(a.Name, b.Name) })
		categories = append(categories, Category{Name: name, Properties: props})
	}
	slices.SortFunc(categories, func(a, b Category) int { return cmp.Compare(a.Name, b.Name) })
	return categories
}

func resolveMember(idx *reflection.Index, inst rojo.Instance, m reflection.Member) Property {
	value := EffectiveValue(idx, inst, m)
	p := Property{
		Name:  m.Name,
		Type:  value.Type,
		Value: value,
		Enum:  enumDisplay(idx, m, value),
	}
	p.Display = Format(p)
	return p
}

// EffectiveValue returns the instance's own value for m, else the class
// default, else an unknown placeholder typed after the member declaration.
func EffectiveValue(idx *reflection.Index, inst rojo.Instance, m reflection.Member) reflection.PropertyValue {
	switch m.Name {
	case "ClassName":
		return reflection.NewString(inst.ClassName)
	case "Name":
		return reflection.NewString(inst.Name)
	}
	if v, ok := inst.Properties[m.Name]; ok {
		return v
	}
	if v, ok := idx.GetDefaultValue(inst.ClassName, m.Name); ok {
		return v
	}
	typ := m.ValueTypeName()
	switch {
	case typ == "":
		typ = unknownType
	case m.IsEnum():
		typ = "Enum." + typ
	}
	return reflection.UnknownValue(typ)
}

func enumDisplay(idx *reflection.Index, m reflection.Member, value reflection.PropertyValue) string {
	if !m.IsEnum() {
		return ""
	}
	enumName := m.ValueTypeName()
	var key reflection.EnumKey
	switch v := value.Value.(type) {
	case reflection.EnumCode:
		key = reflection.EnumItemValue(int64(v))
	case reflection.Number:
		key = reflection.EnumItemValue(int64(v))
	case reflection.String:
		key = reflection.EnumItemName(string(v))
	default:
		return ""
	}
	item, ok := idx.GetEnumItem(enumName, key)
	if !ok {
		return ""
	}
	return enumName + "." + item.Name
}
