package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecret_String(t *testing.T) {
	s := Secret("password123")
	assert.Equal(t, "[REDACTED]", s.String())

	empty := Secret("")
	assert.Equal(t, "", empty.String())
}

func TestSecret_GoString(t *testing.T) {
	s := Secret("password123")
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))

	empty := Secret("")
	assert.Equal(t, `""`, fmt.Sprintf("%#v", empty))
}

func TestSecret_MarshalJSON(t *testing.T) {
	payload := struct {
		Token Secret `json:"token"`
	}{Token: Secret("password123")}

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(data))
	assert.NotContains(t, string(data), "password123")
}

func TestSecret_MarshalYAML(t *testing.T) {
	payload := struct {
		Token Secret `yaml:"token"`
	}{Token: Secret("password123")}

	data, err := yaml.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[REDACTED]")
	assert.NotContains(t, string(data), "password123")
}

func TestSecret_ComparableToCleartext(t *testing.T) {
	// The raw value stays reachable through conversion for actual use.
	s := Secret("password123")
	assert.Equal(t, "password123", string(s))
	assert.True(t, s != "")
}
