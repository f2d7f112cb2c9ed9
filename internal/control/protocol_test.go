// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package control

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/perrito/internal/registry"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{"valid", `{"action":"stop","correlationId":"c1","id":"s1"}`, nil},
		{"missing correlation id", `{"action":"stop","id":"s1"}`, ErrMissingCorrelationID},
		{"not json", `hello`, ErrInvalidMessage},
		{"not an object", `[1,2]`, ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.frame))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "stop", req.Action)
			assert.Equal(t, "c1", req.CorrelationID)

			var p ServerParams
			require.NoError(t, req.Decode(&p))
			assert.Equal(t, "s1", p.ID)
		})
	}
}

func TestRequest_DecodeInvalidParams(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"action":"start","correlationId":"c1","port":"eighty"}`))
	require.NoError(t, err)

	var p StartParams
	assert.ErrorIs(t, req.Decode(&p), ErrInvalidParams)
}

func TestNewRequest_FlattensParams(t *testing.T) {
	req, err := NewRequest(ActionSendMessage, SendMessageParams{ServerID: "s1", ClientID: "Client_1", Message: "ping"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.CorrelationID)

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "send-message", fields["action"])
	assert.Equal(t, req.CorrelationID, fields["correlationId"])
	assert.Equal(t, "s1", fields["serverId"])
	assert.Equal(t, "Client_1", fields["clientId"])
	assert.Equal(t, "ping", fields["message"])

	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	var p SendMessageParams
	require.NoError(t, decoded.Decode(&p))
	assert.Equal(t, "ping", p.Message)
}

func TestNewRequest_RejectsNonObjectParams(t *testing.T) {
	_, err := NewRequest(ActionStop, []string{"s1"})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestNewRequest_UniqueCorrelationIDs(t *testing.T) {
	a, err := NewRequest(ActionGetServers, nil)
	require.NoError(t, err)
	b, err := NewRequest(ActionGetServers, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.CorrelationID, b.CorrelationID)
}

func TestResponse_ExactlyOneOfDataAndError(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		resp, err := NewResponse("c1", success("Server with id %s stopped.", "s1"))
		require.NoError(t, err)

		data, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.JSONEq(t, `{"correlationId":"c1","data":{"name":"SUCCESS","message":"Server with id s1 stopped."},"error":null}`, string(data))
	})

	t.Run("nil result", func(t *testing.T) {
		resp, err := NewResponse("c1", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(resp.Data))
	})

	t.Run("error", func(t *testing.T) {
		resp := NewErrorResponse("c2", &registry.Error{Kind: registry.KindNotFound, ServerID: "s9"})

		data, err := json.Marshal(resp)
		require.NoError(t, err)
		assert.JSONEq(t, `{"correlationId":"c2","data":null,"error":"server with id s9 does not exist"}`, string(data))
	})
}

func TestPush_Encoding(t *testing.T) {
	data, err := json.Marshal(NewPush(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"update-renderer","data":[]}`, string(data))

	servers := []registry.ServerSnapshot{{
		ID: "s1", Name: "My Server", Host: "127.0.0.1", Port: 9001,
		Clients: []registry.ClientSnapshot{{
			ID:         "Client_1",
			Request:    registry.ConnectionInfo{Headers: map[string]string{"host": "127.0.0.1:9001"}, Path: "/", Host: "127.0.0.1", Port: 9001},
			ReadyState: registry.Open,
			Messages:   []registry.Message{{Timestamp: 1, Data: "ping", Direction: registry.Outbound}},
		}},
	}}
	data, err = json.Marshal(NewPush(servers))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"update-renderer","data":[{"id":"s1","name":"My Server","host":"127.0.0.1","port":9001,
		"clients":[{"id":"Client_1","request":{"headers":{"host":"127.0.0.1:9001"},"path":"/","host":"127.0.0.1","port":9001},
		"readyState":1,"messages":[{"timestamp":1,"data":"ping","direction":"outbound"}]}]}]}`, string(data))
}

func TestDecodeMessage(t *testing.T) {
	push, err := DecodeMessage([]byte(`{"action":"update-renderer","data":[{"id":"s1","clients":[]}]}`))
	require.NoError(t, err)
	assert.True(t, push.IsPush())
	servers, err := push.Servers()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "s1", servers[0].ID)

	resp, err := DecodeMessage([]byte(`{"correlationId":"c1","data":null,"error":"boom"}`))
	require.NoError(t, err)
	assert.False(t, resp.IsPush())
	require.Error(t, resp.Err())
	assert.Equal(t, "boom", resp.Err().Error())

	ok, err := DecodeMessage([]byte(`{"correlationId":"c1","data":{},"error":null}`))
	require.NoError(t, err)
	assert.NoError(t, ok.Err())

	_, err = DecodeMessage([]byte(`nope`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
