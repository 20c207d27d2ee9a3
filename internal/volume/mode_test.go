package volume

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"auto":     Auto,
		"AUTO":     Auto,
		"zoned":    Zoned,
		"custom":   Zoned,
		"manual":   Manual,
		" custom2": Manual,
	}
	for in, want := range tests {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("loud")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestMode_JSON(t *testing.T) {
	var v struct {
		Mode Mode `json:"mode"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"custom2"}`), &v))
	assert.Equal(t, Manual, v.Mode)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"manual"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"mode":"loud"}`), &v))
	assert.Equal(t, "Mode(9)", Mode(9).String())
}
