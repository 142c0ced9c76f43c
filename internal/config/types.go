package config

import "encoding/json"

// Secret is a string that never leaves the process in clear text except
// through Value. Logging, %v/%#v formatting, and JSON or text marshaling
// all produce the redacted placeholder, so an API key dropped into a zap
// field or a serialized config dump stays hidden.
type Secret string

// String returns the placeholder for non-empty secrets.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString keeps %#v output redacted too.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value is the only accessor for the clear-text secret.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a value has been configured.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON emits the placeholder so serialized configs carry no
// credentials.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("[REDACTED]")
}

// MarshalText mirrors MarshalJSON for text-based encoders.
func (s Secret) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(""), nil
	}
	return []byte("[REDACTED]"), nil
}

// UnmarshalText reads the clear-text value from config sources.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
