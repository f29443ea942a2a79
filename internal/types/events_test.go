package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundShapes(t *testing.T) {
	data, err := json.Marshal(OutboundEvent{Type: EventAI, Name: "Alice", Content: "raw", ModelUsed: "m", Target: "Alice"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ai","name":"Alice","content":"raw","thoughts":[],"modelUsed":"m","target":"Alice"}`, string(data))

	data, err = json.Marshal(ProfilesUpdate(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"profilesUpdate","profiles":[]}`, string(data))

	data, err = json.Marshal(Error("Invalid message type."))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"Invalid message type."}`, string(data))
}

func TestInboundKeepsSpawnFieldsRaw(t *testing.T) {
	var ev InboundEvent
	require.NoError(t, json.Unmarshal([]byte(`{"type":"spawnParticipants","prompt":"pirates","count":"3"}`), &ev))
	assert.Equal(t, `"pirates"`, string(ev.Prompt))
	assert.Equal(t, `"3"`, string(ev.Count))
}
