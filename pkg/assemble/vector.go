package assemble

import (
	"encoding/json"
	"math"
	"strconv"
)

// Vector is a float slice whose JSON form writes non-finite samples as null,
// which plain encoding/json rejects. null decodes back to NaN.
type Vector []float64

// Clone returns a copy of v
func (v Vector) Clone() Vector {
	if v == nil {
		return Vector{}
	}
	return append(Vector{}, v...)
}

// MarshalJSON implements json.Marshaler
func (v Vector) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	buf := make([]byte, 0, 2+len(v)*12)
	buf = append(buf, '[')
	for i, x := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			buf = append(buf, "null"...)
			continue
		}
		buf = strconv.AppendFloat(buf, x, 'g', -1, 64)
	}
	return append(buf, ']'), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Vector) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Vector, len(raw))
	for i, p := range raw {
		if p == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *p
	}
	*v = out
	return nil
}
