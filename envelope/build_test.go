package envelope

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curately/atsync/common"
)

func TestBuild_Metadata(t *testing.T) {
	rec := common.EnrichedRecord{
		EntityID:      "42",
		Payload:       map[string]any{"firstName": "Ada", "owner": map[string]any{"id": float64(77)}},
		Kind:          common.KindUpdated,
		ChangedFields: []string{"email", "firstName"},
	}
	change := common.EffectiveChange{
		EntityID:   "42",
		EntityType: common.EntityCandidate,
		Kind:       common.KindUpdated,
	}
	delta := common.AssociationDelta{AddedIDs: []string{"7", "9"}, RemovedIDs: []string{"3"}}

	env, err := Build("acme", "bullhorn", rec, change, delta)
	require.NoError(t, err)

	assert.Equal(t, "acme", env.TenantID)
	assert.Equal(t, "bullhorn", env.Provider)
	assert.Equal(t, "Candidate", env.EntityType)
	assert.Equal(t, "42", env.EntityID)
	assert.Equal(t, "UPDATED", env.EventKind)
	assert.Equal(t, "email,firstName", env.ChangedFields)
	assert.Equal(t, "7,9", env.AddedIDs)
	assert.Equal(t, "3", env.RemovedIDs)
	assert.Equal(t, "77", env.RecruiterID)
}

func TestBuild_PrunesEmptyPayloadLeaves(t *testing.T) {
	rec := common.EnrichedRecord{
		EntityID: "42",
		Payload: map[string]any{
			"firstName": "Ada",
			"lastName":  "",
			"phone":     nil,
			"address":   map[string]any{"city": "", "state": nil},
			"skills":    []any{"go", "", nil},
		},
	}
	change := common.EffectiveChange{EntityID: "42", EntityType: common.EntityCandidate, Kind: common.KindInserted}

	env, err := Build("acme", "bullhorn", rec, change, common.AssociationDelta{})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.Payload), &payload))
	assert.Equal(t, map[string]any{
		"firstName": "Ada",
		"skills":    []any{"go"},
	}, payload)
}

func TestBuild_DeletedEntityHasNoPayload(t *testing.T) {
	change := common.EffectiveChange{EntityID: "42", EntityType: common.EntityCandidate, Kind: common.KindDeleted}

	env, err := Build("acme", "bullhorn", common.EnrichedRecord{EntityID: "42"}, change, common.AssociationDelta{})
	require.NoError(t, err)

	assert.Equal(t, "DELETED", env.EventKind)
	assert.Empty(t, env.Payload)
	assert.Empty(t, env.RecruiterID)
}

func TestBuild_RecruiterIDFromStringOwner(t *testing.T) {
	rec := common.EnrichedRecord{
		EntityID: "1",
		Payload:  map[string]any{"owner": map[string]any{"id": "abc"}},
	}
	change := common.EffectiveChange{EntityID: "1", EntityType: common.EntityCandidate, Kind: common.KindUpdated}

	env, err := Build("acme", "bullhorn", rec, change, common.AssociationDelta{})
	require.NoError(t, err)
	assert.Equal(t, "abc", env.RecruiterID)
}

func TestEncode_OmitsEmptyOptionalFields(t *testing.T) {
	data, err := Encode(common.EventEnvelope{
		TenantID:   "acme",
		Provider:   "bullhorn",
		EntityType: "Candidate",
		EntityID:   "42",
		EventKind:  "DELETED",
	})
	require.NoError(t, err)

	assert.NotContains(t, string(data), "changedFields")
	assert.NotContains(t, string(data), "recruiterId")
	assert.Contains(t, string(data), `"entityId":"42"`)
}

func TestCompressor_SmallPayloadPassesThrough(t *testing.T) {
	c := &Compressor{Threshold: 1024}
	data := []byte(`{"entityId":"42"}`)

	out, attrs, err := c.Encode(data, "bullhorn")
	require.NoError(t, err)

	assert.Equal(t, data, out)
	assert.Equal(t, "bullhorn", attrs[AttrAtsName])
	assert.NotContains(t, attrs, AttrContentEncoding)
}

func TestCompressor_OversizedPayloadRoundTrips(t *testing.T) {
	c := &Compressor{Threshold: 64}
	data := bytes.Repeat([]byte(`{"field":"value"}`), 100)

	out, attrs, err := c.Encode(data, "jobdiva")
	require.NoError(t, err)

	assert.Equal(t, "deflate+base64", attrs[AttrContentEncoding])
	assert.Equal(t, "jobdiva", attrs[AttrAtsName])
	assert.Less(t, len(out), len(data))

	restored, err := Decode(out, attrs)
	require.NoError(t, err)
	assert.Equal(t, data, restored)
}

func TestDecode_UncompressedPassThrough(t *testing.T) {
	data := []byte("plain")
	out, err := Decode(data, map[string]string{AttrAtsName: "bullhorn"})
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
