package properties

import (
	"math"
	"strconv"
	"strings"

	"github.com/slighter12/rojo-bridge-go/reflection"
)

// Format renders p for display. Rules are chosen by the value's type tag.
func Format(p Property) string {
	v := p.Value
	if v.Value == nil {
		return ""
	}
	if v.IsUnknown() || v.Value.String() == reflection.UnknownSentinel {
		return "Unknown " + p.Type + " value"
	}

	switch v.Type {
	case "Color3":
		if c, ok := v.Value.(reflection.Color3); ok {
			return strconv.Itoa(byteChannel(c[0])) + ", " + strconv.Itoa(byteChannel(c[1])) + ", " + strconv.Itoa(byteChannel(c[2]))
		}
	case "Vector2":
		if vec, ok := v.Value.(reflection.Vector2); ok {
			return joinComponents(vec[:])
		}
	case "Vector3":
		if vec, ok := v.Value.(reflection.Vector3); ok {
			return joinComponents(vec[:])
		}
	case "CFrame":
		if cf, ok := v.Value.(reflection.CFrame); ok {
			return joinComponents(cf.Components())
		}
	case "Float32", "Float64", "float":
		if n, ok := v.Value.(reflection.Number); ok {
			return FormatFloat(float64(n))
		}
	case "Enum", "EnumValue":
		if p.Enum != "" {
			return p.Enum
		}
	}
	return v.Value.String()
}

// FormatFloat shows integral values with a trailing ".0" and truncates the
// rest to three decimals.
func FormatFloat(f float64) string {
	if f == math.Trunc(f) {
		return reflection.FormatNumber(f) + ".0"
	}
	return reflection.FormatNumber(math.Floor(f*1000) / 1000)
}

func byteChannel(c float64) int {
	return int(math.Floor(c * 255))
}

func joinComponents(nums []float64) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = reflection.FormatNumber(n)
	}
	return strings.Join(parts, ", ")
}
