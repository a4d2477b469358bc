package plugin

import (
	"fmt"

	"github.com/srg/beaconscan/internal/beacon"
)

// intArgument reads an integer passed either bare or as {key: n}.
func intArgument(arguments interface{}, key string) (int, error) {
	value := arguments
	if m, ok := arguments.(map[string]interface{}); ok {
		v, present := m[key]
		if !present {
			return 0, fmt.Errorf("missing argument %q", key)
		}
		value = v
	}
	if value == nil {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	n, err := beacon.ToInt(value)
	if err != nil {
		return 0, fmt.Errorf("argument %q must be an integer: %w", key, err)
	}
	return n, nil
}
