package protocol

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientMessageKind(t *testing.T) {
	tcs := []struct {
		name string
		raw  string
		kind EventKind
	}{
		{"direct send", `{"id":1,"send_direct_message":{"temp_id":"t1","recipient_id":2,"text":"hi"}}`, EventSendDirect},
		{"group send", `{"id":2,"send_group_message":{"temp_id":"t2","group_id":3,"text":"hi"}}`, EventSendGroup},
		{"join", `{"join_group_room":{"group_id":3}}`, EventJoinGroup},
		{"leave", `{"leave_group_room":{"group_id":3}}`, EventLeaveGroup},
		{"typing", `{"typing":{"to":2}}`, EventTyping},
		{"stop typing", `{"stop_typing":{"group_id":3}}`, EventStopTyping},
		{"delivered", `{"mark_delivered":{"message_ids":[1,2]}}`, EventMarkDelivered},
		{"read", `{"mark_read":{"message_ids":[1]}}`, EventMarkRead},
		{"empty", `{"id":3}`, EventUnknown},
		{"two payloads", `{"typing":{"to":2},"join_group_room":{"group_id":3}}`, EventUnknown},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			var msg ClientMessage
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &msg))
			assert.Equal(t, tc.kind, msg.Kind())
		})
	}
}

func TestEventKindString(t *testing.T) {
	for _, k := range AllEventKinds() {
		assert.NotEqual(t, "unknown", k.String(), "kind %d has no name", k)
	}
	assert.Equal(t, "unknown", EventUnknown.String())
}

func TestAckOK(t *testing.T) {
	msg := &types.Message{Id: 7, TempId: "t1", Text: "hi", Status: types.StatusSent}

	res := AckOK(4, msg)

	assert.Equal(t, 4, res.Id)
	assert.True(t, res.Ack.Success)
	assert.Equal(t, "t1", res.Ack.TempId)
	assert.Equal(t, msg, res.Ack.Message)
	assert.Empty(t, res.Ack.Error)
}

func TestAckError(t *testing.T) {
	res := AckError(4, "t1", http.StatusBadRequest, "group expired")

	assert.False(t, res.Ack.Success)
	assert.Equal(t, "t1", res.Ack.TempId)
	assert.Equal(t, "group expired", res.Ack.Error)
	assert.Nil(t, res.Ack.Message)
}

func TestErrInvalidMessage(t *testing.T) {
	t.Run("with id", func(t *testing.T) {
		res := ErrInvalidMessage(3)
		assert.Equal(t, 3, res.Id)
		assert.Equal(t, http.StatusBadRequest, res.Response.ResponseCode)
	})

	t.Run("without id", func(t *testing.T) {
		res := ErrInvalidMessage(-1)
		assert.Equal(t, 0, res.Id)
		assert.Equal(t, "invalid message format", res.Response.Error)
	})
}

func TestLifecycleEventJSON(t *testing.T) {
	res := LifecycleEvent(9, LifecycleWarning, types.Warning24h, Now())

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	ev := decoded["event"].(map[string]any)["group_lifecycle"].(map[string]any)
	assert.Equal(t, "warning", ev["kind"])
	assert.Equal(t, "24h", ev["tag"])
	assert.EqualValues(t, 9, ev["group_id"])
}
