package config

// Secret holds a credential (webhook URL, bot token) that must never leak
// into logs or dumped config. Hand the raw value out only via an explicit
// string conversion at the call site that needs it.
type Secret string

// redacted replaces the value everywhere the type is formatted.
const redacted = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString covers %#v formatting.
func (s Secret) GoString() string {
	if s == "" {
		return `""`
	}
	return `"` + redacted + `"`
}

// MarshalYAML keeps secrets out of persisted config dumps.
func (s Secret) MarshalYAML() (interface{}, error) {
	if s == "" {
		return "", nil
	}
	return redacted, nil
}

// MarshalJSON keeps secrets out of serialized API payloads.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
