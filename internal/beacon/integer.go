package beacon

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// ToInt reads a whole number from a loosely typed host value. Floats must have
// no fractional part, strings are read in base 10, and booleans are rejected.
func ToInt(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case bool:
		return 0, fmt.Errorf("unable to cast %#v of type %T to int", v, v)
	case float64:
		return wholeFloat(v)
	case float32:
		return wholeFloat(float64(v))
	case json.Number:
		if n, err := strconv.Atoi(v.String()); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number: %w", v.String(), err)
		}
		return wholeFloat(f)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%q is not a base-10 integer: %w", v, err)
		}
		return n, nil
	default:
		return cast.ToIntE(raw)
	}
}

func wholeFloat(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not a whole number", f)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%v is out of range", f)
	}
	return int(f), nil
}
