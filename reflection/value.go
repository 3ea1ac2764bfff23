package reflection

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrUnsupportedType is wrapped by every UnsupportedTypeError.
var ErrUnsupportedType = errors.New("unsupported property type")

// UnsupportedTypeError reports a PropertyValue whose type tag has no known payload shape.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported property type %q", e.Type)
}

func (e *UnsupportedTypeError) Unwrap() error { return ErrUnsupportedType }

// Payload is the decoded value carried by a PropertyValue. The set of
// implementations is closed: only the types in this file satisfy it.
type Payload interface {
	fmt.Stringer
	payload()
}

// PropertyValue is a tagged value as exchanged with Rojo and the reflection service.
type PropertyValue struct {
	Type  string
	Value Payload
}

type (
	String   string
	Bool     bool
	Number   float64
	EnumCode int64
	Ref      string
	Vector2  [2]float64
	Vector3  [3]float64
	Color3   [3]float64
	// NumberRange is [min, max].
	NumberRange [2]float64
	// Unknown marks a value that could not be resolved from overrides or defaults.
	Unknown struct{}
)

// CFrame is a position plus a row-major 3x3 rotation matrix.
type CFrame struct {
	Position    [3]float64    `json:"Position"`
	Orientation [3][3]float64 `json:"Orientation"`
}

// UDim is encoded on the wire as [scale, offset].
type UDim struct {
	Scale  float64
	Offset int32
}

// UDim2 is encoded as [[xScale, xOffset], [yScale, yOffset]].
type UDim2 [2]UDim

// Rect is encoded as [[minX, minY], [maxX, maxY]].
type Rect [2]Vector2

type NumberKeypoint struct {
	Time     float64 `json:"Time"`
	Value    float64 `json:"Value"`
	Envelope float64 `json:"Envelope"`
}

type NumberSequence struct {
	Keypoints []NumberKeypoint `json:"Keypoints"`
}

type ColorKeypoint struct {
	Time  float64 `json:"Time"`
	Color Color3  `json:"Color"`
}

type ColorSequence struct {
	Keypoints []ColorKeypoint `json:"Keypoints"`
}

type CustomPhysics struct {
	Density          float64 `json:"Density"`
	Friction         float64 `json:"Friction"`
	Elasticity       float64 `json:"Elasticity"`
	FrictionWeight   float64 `json:"FrictionWeight"`
	ElasticityWeight float64 `json:"ElasticityWeight"`
}

// PhysicalProperties holds nil Custom when the engine default applies.
type PhysicalProperties struct {
	Custom *CustomPhysics
}

func (String) payload()             {}
func (Bool) payload()               {}
func (Number) payload()             {}
func (EnumCode) payload()           {}
func (Ref) payload()                {}
func (Vector2) payload()            {}
func (Vector3) payload()            {}
func (Color3) payload()             {}
func (NumberRange) payload()        {}
func (Unknown) payload()            {}
func (CFrame) payload()             {}
func (UDim) payload()               {}
func (UDim2) payload()              {}
func (Rect) payload()               {}
func (NumberSequence) payload()     {}
func (ColorSequence) payload()      {}
func (PhysicalProperties) payload() {}

// UnknownSentinel is the literal string the unknown placeholder carries on the wire.
const UnknownSentinel = "unknown"

func (s String) String() string   { return string(s) }
func (b Bool) String() string     { return strconv.FormatBool(bool(b)) }
func (n Number) String() string   { return FormatNumber(float64(n)) }
func (e EnumCode) String() string { return strconv.FormatInt(int64(e), 10) }
func (r Ref) String() string      { return string(r) }
func (Unknown) String() string    { return UnknownSentinel }

func (v Vector2) String() string     { return joinNumbers(v[:], ",") }
func (v Vector3) String() string     { return joinNumbers(v[:], ",") }
func (c Color3) String() string      { return joinNumbers(c[:], ",") }
func (r NumberRange) String() string { return joinNumbers(r[:], ",") }

// Components returns the position followed by the orientation matrix, row-major.
func (c CFrame) Components() []float64 {
	out := make([]float64, 0, 12)
	out = append(out, c.Position[:]...)
	for _, row := range c.Orientation {
		out = append(out, row[:]...)
	}
	return out
}

func (c CFrame) String() string { return joinNumbers(c.Components(), ",") }

func (u UDim) String() string {
	return FormatNumber(u.Scale) + "," + strconv.FormatInt(int64(u.Offset), 10)
}

func (u UDim2) String() string { return u[0].String() + "," + u[1].String() }

func (r Rect) String() string { return r[0].String() + "," + r[1].String() }

func (s NumberSequence) String() string {
	parts := make([]string, 0, len(s.Keypoints))
	for _, kp := range s.Keypoints {
		parts = append(parts, FormatNumber(kp.Time)+":"+FormatNumber(kp.Value))
	}
	return strings.Join(parts, ", ")
}

func (s ColorSequence) String() string {
	parts := make([]string, 0, len(s.Keypoints))
	for _, kp := range s.Keypoints {
		parts = append(parts, FormatNumber(kp.Time)+":"+kp.Color.String())
	}
	return strings.Join(parts, ", ")
}

func (p PhysicalProperties) String() string {
	if p.Custom == nil {
		return "Default"
	}
	c := p.Custom
	return joinNumbers([]float64{c.Density, c.Friction, c.Elasticity, c.FrictionWeight, c.ElasticityWeight}, ", ")
}

func (u *UDim) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	u.Scale = pair[0]
	u.Offset = int32(pair[1])
	return nil
}

func (u UDim) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{u.Scale, float64(u.Offset)})
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = Ref(s)
	return nil
}

func (p *PhysicalProperties) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == `"Default"` {
		p.Custom = nil
		return nil
	}
	var nested struct {
		Custom *CustomPhysics `json:"Custom"`
	}
	if err := json.Unmarshal(data, &nested); err == nil && nested.Custom != nil {
		p.Custom = nested.Custom
		return nil
	}
	var flat CustomPhysics
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	p.Custom = &flat
	return nil
}

func (p PhysicalProperties) MarshalJSON() ([]byte, error) {
	if p.Custom == nil {
		return []byte(`"Default"`), nil
	}
	return json.Marshal(p.Custom)
}

func (Unknown) MarshalJSON() ([]byte, error) {
	return json.Marshal(UnknownSentinel)
}

type payloadDecoder func(raw json.RawMessage) (Payload, error)

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var payloadDecoders = map[string]payloadDecoder{
	"String":             decodeAs[String],
	"Content":            decodeAs[String],
	"BinaryString":       decodeAs[String],
	"ProtectedString":    decodeAs[String],
	"SharedString":       decodeAs[String],
	"Bool":               decodeAs[Bool],
	"Float32":            decodeAs[Number],
	"Float64":            decodeAs[Number],
	"float":              decodeAs[Number],
	"double":             decodeAs[Number],
	"Int32":              decodeAs[Number],
	"Int64":              decodeAs[Number],
	"int":                decodeAs[Number],
	"Vector2":            decodeAs[Vector2],
	"Vector2int16":       decodeAs[Vector2],
	"Vector3":            decodeAs[Vector3],
	"Vector3int16":       decodeAs[Vector3],
	"Color3":             decodeAs[Color3],
	"Color3uint8":        decodeAs[Color3],
	"CFrame":             decodeAs[CFrame],
	"Enum":               decodeAs[EnumCode],
	"EnumValue":          decodeAs[EnumCode],
	"UDim":               decodeAs[UDim],
	"UDim2":              decodeAs[UDim2],
	"Rect":               decodeAs[Rect],
	"NumberRange":        decodeAs[NumberRange],
	"NumberSequence":     decodeAs[NumberSequence],
	"ColorSequence":      decodeAs[ColorSequence],
	"Ref":                decodeAs[Ref],
	"PhysicalProperties": decodeAs[PhysicalProperties],
}

// SupportedType reports whether a type tag has a known payload shape.
func SupportedType(typ string) bool {
	_, ok := payloadDecoders[typ]
	return ok
}

// DecodePayload decodes raw into the payload shape registered for typ.
func DecodePayload(typ string, raw json.RawMessage) (Payload, error) {
	decode, ok := payloadDecoders[typ]
	if !ok {
		return nil, &UnsupportedTypeError{Type: typ}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode %s: missing value", typ)
	}
	payload, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", typ, err)
	}
	return payload, nil
}

func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type  string          `json:"Type"`
		Value json.RawMessage `json:"Value"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := DecodePayload(wire.Type, wire.Value)
	if err != nil {
		return err
	}
	v.Type = wire.Type
	v.Value = payload
	return nil
}

func (v PropertyValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string  `json:"Type"`
		Value Payload `json:"Value"`
	}{Type: v.Type, Value: v.Value})
}

// NewString builds a String-typed value.
func NewString(s string) PropertyValue {
	return PropertyValue{Type: "String", Value: String(s)}
}

// UnknownValue builds the placeholder used when no override or default exists.
func UnknownValue(typ string) PropertyValue {
	return PropertyValue{Type: typ, Value: Unknown{}}
}

// IsUnknown reports whether v is the unknown placeholder.
func (v PropertyValue) IsUnknown() bool {
	_, ok := v.Value.(Unknown)
	return ok
}

// DecodeProperties decodes a name-keyed map of wire values. Entries whose tag is
// unsupported or whose payload does not match its tag are left out and their
// names returned in skipped, sorted.
func DecodeProperties(raw map[string]json.RawMessage) (props map[string]PropertyValue, skipped []string) {
	props = make(map[string]PropertyValue, len(raw))
	for name, data := range raw {
		var v PropertyValue
		if err := json.Unmarshal(data, &v); err != nil {
			skipped = append(skipped, name)
			continue
		}
		props[name] = v
	}
	slices.Sort(skipped)
	return props, skipped
}

// FormatNumber renders a float the way a JavaScript template literal would for
// ordinary magnitudes: no exponent, no trailing zeros.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func joinNumbers(nums []float64, sep string) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = FormatNumber(n)
	}
	return strings.Join(parts, sep)
}
