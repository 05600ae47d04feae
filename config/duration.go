package config

import (
	"encoding/json"
	"time"

	"github.com/Joseamica/avoqado-server-sub005/errors"
)

// Duration is a time.Duration that unmarshals from "10s" style strings
// in both the JSON config file and environment values, and from plain
// nanosecond numbers in JSON.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "config", "UnmarshalText", "parse duration")
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "config", "UnmarshalJSON", "parse duration")
	}
	switch value := v.(type) {
	case string:
		return d.UnmarshalText([]byte(value))
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	default:
		return errors.New(errors.CodeInternal, "duration must be a string or number")
	}
}

// MarshalJSON renders the duration as its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
