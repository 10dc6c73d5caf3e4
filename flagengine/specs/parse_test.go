package specs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/flagkit-go-client/flagengine/specs"
)

const specsPayload = `{
	"feature_gates": [{
		"name": "a_gate",
		"type": "feature_gate",
		"salt": "s",
		"enabled": true,
		"defaultValue": false,
		"idType": "userID",
		"rules": [{
			"id": "R1",
			"name": "all",
			"passPercentage": 100,
			"conditions": [{"type": "public"}],
			"returnValue": true,
			"idType": "userID"
		}]
	}],
	"dynamic_configs": [],
	"layer_configs": [],
	"time": 1700000000000,
	"has_updates": true
}`

func TestParseSpecs(t *testing.T) {
	resp, err := specs.ParseSpecs(specsPayload)

	require.NoError(t, err)
	require.Len(t, resp.FeatureGates, 1)
	gate := resp.FeatureGates[0]
	assert.Equal(t, "a_gate", gate.Name)
	assert.Equal(t, specs.KindGate, gate.Type)
	assert.Equal(t, "R1", gate.Rules[0].BucketSalt())
	assert.Equal(t, int64(1700000000000), resp.Time)
}

func TestParseSpecsRejectsMalformedPayloads(t *testing.T) {
	_, err := specs.ParseSpecs("")
	assert.ErrorIs(t, err, specs.ErrEmptyPayload)

	_, err = specs.ParseSpecs("{not json")
	assert.Error(t, err)

	_, err = specs.ParseSpecs(`{"has_updates": false, "time": 1}`)
	assert.ErrorIs(t, err, specs.ErrNoUpdates)
}

func TestParseInitialize(t *testing.T) {
	raw := `{
		"feature_gates": {"abc": {"name": "abc", "value": true, "rule_id": "r"}},
		"dynamic_configs": {},
		"layer_configs": {},
		"time": 5,
		"has_updates": true,
		"hash_used": "djb2"
	}`

	resp, err := specs.ParseInitialize(raw)

	require.NoError(t, err)
	assert.True(t, resp.FeatureGates["abc"].Value)
	assert.Equal(t, "djb2", resp.HashUsed)
}

func TestExtractLCUT(t *testing.T) {
	assert.Equal(t, int64(1700000000000), specs.ExtractLCUT(specsPayload))
	assert.Equal(t, int64(0), specs.ExtractLCUT("garbage"))
	assert.Equal(t, int64(0), specs.ExtractLCUT(""))
	assert.True(t, specs.HasUpdates(specsPayload))
	assert.False(t, specs.HasUpdates(`{"time": 3}`))
}
