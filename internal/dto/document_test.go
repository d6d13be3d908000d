package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringListAcceptsStringOrArray(t *testing.T) {
	var payload struct {
		Types StringList `json:"types"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"types":"Voucher"}`), &payload))
	require.Equal(t, StringList{"Voucher"}, payload.Types)

	require.NoError(t, json.Unmarshal([]byte(`{"types":["Voucher","Minuta"]}`), &payload))
	require.Equal(t, StringList{"Voucher", "Minuta"}, payload.Types)

	payload.Types = nil
	require.NoError(t, json.Unmarshal([]byte(`{"types":""}`), &payload))
	require.Nil(t, payload.Types)

	require.Error(t, json.Unmarshal([]byte(`{"types":42}`), &payload))
}
