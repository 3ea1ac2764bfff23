package reflection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// MemberKind is the reflection "MemberType" of a class member.
type MemberKind string

const (
	MemberProperty MemberKind = "Property"
	MemberFunction MemberKind = "Function"
	MemberEvent    MemberKind = "Event"
	MemberCallback MemberKind = "Callback"
)

// Well-known member tags.
const (
	TagHidden     = "Hidden"
	TagDeprecated = "Deprecated"
)

// ValueCategoryEnum is the ValueType category carried by enum-typed members.
const ValueCategoryEnum = "Enum"

type ValueType struct {
	Name     string `json:"Name"`
	Category string `json:"Category"`
}

type Member struct {
	Name         string
	Category     string
	Kind         MemberKind
	ValueType    *ValueType
	Tags         []string
	DefaultValue *PropertyValue
}

// HasTag reports whether the member carries tag.
func (m Member) HasTag(tag string) bool {
	return lo.Contains(m.Tags, tag)
}

// ValueTypeName returns the declared value type name, or "" when none is declared.
func (m Member) ValueTypeName() string {
	if m.ValueType == nil {
		return ""
	}
	return m.ValueType.Name
}

// IsEnum reports whether the member's declared value type is an enum.
func (m Member) IsEnum() bool {
	return m.ValueType != nil && m.ValueType.Category == ValueCategoryEnum
}

type Class struct {
	Name              string
	Superclass        string
	Members           []Member
	SortOrder         int
	HasSortOrder      bool
	Tags              []string
	DefaultProperties map[string]PropertyValue
}

func (c *Class) member(name string) (*Member, bool) {
	for i := range c.Members {
		if c.Members[i].Name == name {
			return &c.Members[i], true
		}
	}
	return nil, false
}

type EnumItem struct {
	Name  string `json:"Name"`
	Value int64  `json:"Value"`
}

type Enum struct {
	Name  string     `json:"Name"`
	Items []EnumItem `json:"Items"`
}

// Version is the reflection schema version. The service reports it either as a
// plain number or as a four-part array; both decode to a dotted string.
type Version string

func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*v = ""
	case data[0] == '[':
		var parts []json.Number
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("decode version: %w", err)
		}
		*v = Version(strings.Join(lo.Map(parts, func(p json.Number, _ int) string { return p.String() }), "."))
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode version: %w", err)
		}
		*v = Version(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decode version: %w", err)
		}
		*v = Version(n.String())
	}
	return nil
}

// Schema is one half of the reflection document: either the live API dump or
// the defaults dump.
type Schema struct {
	Classes []Class
	Enums   []Enum
	Version Version

	// Warnings lists entries dropped while decoding, for example default
	// values carrying an unsupported type tag.
	Warnings []string
}

type wireMember struct {
	Name         string            `json:"Name"`
	Category     string            `json:"Category"`
	MemberType   MemberKind        `json:"MemberType"`
	ValueType    *ValueType        `json:"ValueType"`
	Tags         []json.RawMessage `json:"Tags"`
	DefaultValue json.RawMessage   `json:"DefaultValue"`
}

type wireClass struct {
	Name              string                     `json:"Name"`
	Superclass        string                     `json:"Superclass"`
	Members           []wireMember               `json:"Members"`
	SortOrder         *json.Number               `json:"SortOrder"`
	Tags              []json.RawMessage          `json:"Tags"`
	DefaultProperties map[string]json.RawMessage `json:"DefaultProperties"`
}

type wireSchema struct {
	Classes []wireClass `json:"Classes"`
	Enums   []Enum      `json:"Enums"`
	Version Version     `json:"Version"`
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var wire wireSchema
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	out := Schema{
		Classes: make([]Class, 0, len(wire.Classes)),
		Enums:   wire.Enums,
		Version: wire.Version,
	}
	for _, wc := range wire.Classes {
		class, warnings := wc.toClass()
		out.Classes = append(out.Classes, class)
		out.Warnings = append(out.Warnings, warnings...)
	}
	*s = out
	return nil
}

func (wc wireClass) toClass() (Class, []string) {
	var warnings []string
	class := Class{
		Name:       wc.Name,
		Superclass: wc.Superclass,
		Members:    make([]Member, 0, len(wc.Members)),
		Tags:       stringTags(wc.Tags),
	}
	if wc.SortOrder != nil {
		if n, err := strconv.ParseFloat(wc.SortOrder.String(), 64); err == nil {
			class.SortOrder = int(n)
			class.HasSortOrder = true
		}
	}
	for _, wm := range wc.Members {
		member := Member{
			Name:      wm.Name,
			Category:  wm.Category,
			Kind:      wm.MemberType,
			ValueType: wm.ValueType,
			Tags:      stringTags(wm.Tags),
		}
		if len(wm.DefaultValue) > 0 && string(wm.DefaultValue) != "null" {
			var dv PropertyValue
			if err := json.Unmarshal(wm.DefaultValue, &dv); err != nil {
				warnings = append(warnings, fmt.Sprintf("%s.%s: %v", wc.Name, wm.Name, err))
			} else {
				member.DefaultValue = &dv
			}
		}
		class.Members = append(class.Members, member)
	}
	if len(wc.DefaultProperties) > 0 {
		props, skipped := DecodeProperties(wc.DefaultProperties)
		class.DefaultProperties = props
		for _, name := range skipped {
			warnings = append(warnings, fmt.Sprintf("%s.%s: default value skipped", wc.Name, name))
		}
	}
	return class, warnings
}

// stringTags keeps only the string entries of a raw tag list. Some dumps carry
// structured tags such as {"PreferredDescriptor": ...}; those are ignored.
func stringTags(raw []json.RawMessage) []string {
	tags := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			tags = append(tags, s)
		}
	}
	return tags
}

// Dump is the document served by the reflection service.
type Dump struct {
	API       Schema          `json:"api"`
	Defaults  Schema          `json:"defaults"`
	IconIndex json.RawMessage `json:"iconIndex,omitempty"`
}
