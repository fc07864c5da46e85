package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToBlockNumArg(t *testing.T) {
	tests := []struct {
		name     string
		blockNum uint64
		want     string
	}{
		{
			name:     "block 0",
			blockNum: 0,
			want:     "0x0",
		},
		{
			name:     "block 100",
			blockNum: 100,
			want:     "0x64",
		},
		{
			name:     "large block number",
			blockNum: 18000000,
			want:     "0x112a880",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, toBlockNumArg(tt.blockNum))
		})
	}
}

// newFakeServer serves eth_blockNumber and eth_getBlockByNumber for single
// and batched requests.
func newFakeServer(t *testing.T, head uint64) *Client {
	t.Helper()

	type request struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}

	respond := func(req request) map[string]any {
		var result any
		switch req.Method {
		case "eth_blockNumber":
			result = fmt.Sprintf("0x%x", head)
		case "eth_getBlockByNumber":
			var numArg string
			json.Unmarshal(req.Params[0], &numArg)
			result = map[string]any{
				"number": numArg,
				"hash":   "0x00000000000000000000000000000000000000000000000000000000000000cc",
			}
		}
		return map[string]any{"jsonrpc": "2.0", "id": json.RawMessage(req.ID), "result": result}
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))

		if len(raw) > 0 && raw[0] == '[' {
			var batch []request
			require.NoError(t, json.Unmarshal(raw, &batch))
			responses := make([]any, len(batch))
			for i, req := range batch {
				responses[i] = respond(req)
			}
			json.NewEncoder(w).Encode(responses)
			return
		}

		var single request
		require.NoError(t, json.Unmarshal(raw, &single))
		json.NewEncoder(w).Encode(respond(single))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), server.URL, 2, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func TestClient_HeadHeight(t *testing.T) {
	client := newFakeServer(t, 19000000)

	head, err := client.HeadHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(19000000), head)
}

func TestClient_Headers_Batched(t *testing.T) {
	client := newFakeServer(t, 100)

	heights := make([]uint64, 150) // spans two batch chunks
	for i := range heights {
		heights[i] = uint64(i)
	}

	headers, err := client.Headers(context.Background(), heights)
	require.NoError(t, err)
	require.Len(t, headers, 150)

	for i, header := range headers {
		require.NotNil(t, header)
		require.Equal(t, uint64(i), uint64(header.Number))
	}
}
