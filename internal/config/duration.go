package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration is a Go duration string as written in the file ("500ms", "5s").
// Empty means "use the default".
type Duration string

// Parse returns 0 for an empty value. field names the key in errors.
func (d Duration) Parse(field string) (time.Duration, error) {
	raw := strings.TrimSpace(string(d))
	if raw == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", field, string(d), err)
	case v < 0:
		return 0, fmt.Errorf("%s: %q is negative", field, string(d))
	}
	return v, nil
}

// Or is Parse with def standing in for an empty or zero value.
func (d Duration) Or(field string, def time.Duration) (time.Duration, error) {
	v, err := d.Parse(field)
	if err != nil || v > 0 {
		return v, err
	}
	return def, nil
}
