package daemon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionlens/sessionlens/internal/bridge"
)

func TestWatchParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  WatchParams
		wantErr bool
	}{
		{"valid", WatchParams{ProjectPath: "/p", SessionID: "s1"}, false},
		{"missing project", WatchParams{SessionID: "s1"}, true},
		{"missing session", WatchParams{ProjectPath: "/p"}, true},
		{"empty", WatchParams{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEditContextParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  EditContextParams
		wantErr bool
	}{
		{"valid", EditContextParams{ProjectPath: "/p", SessionID: "s1", File: "main.go"}, false},
		{"missing project", EditContextParams{SessionID: "s1", File: "main.go"}, true},
		{"missing session", EditContextParams{ProjectPath: "/p", File: "main.go"}, true},
		{"missing file", EditContextParams{ProjectPath: "/p", SessionID: "s1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubscribeParams_Validate(t *testing.T) {
	assert.NoError(t, (&SubscribeParams{Event: bridge.EventIndexReady}).Validate())
	assert.NoError(t, (&SubscribeParams{Event: bridge.EventSessionChanged}).Validate())
	assert.Error(t, (&SubscribeParams{Event: "bogus"}).Validate())
	assert.Error(t, (&SubscribeParams{}).Validate())
}

func TestNewSuccessResponse(t *testing.T) {
	resp := NewSuccessResponse("req-1", PingResult{Pong: true})

	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, "req-1", resp.ID)
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("req-2", ErrCodeMethodNotFound, "method not found: frobnicate")

	assert.Equal(t, "2.0", resp.JSONRPC)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "frobnicate")
}

func TestRequest_RoundTrip(t *testing.T) {
	req := Request{
		JSONRPC: "2.0",
		Method:  MethodWatch,
		Params:  WatchParams{ProjectPath: "/p", SessionID: "s1"},
		ID:      "req-3",
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded Request
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, MethodWatch, decoded.Method)

	var params WatchParams
	require.NoError(t, decodeParams(decoded.Params, &params))
	assert.Equal(t, "/p", params.ProjectPath)
	assert.Equal(t, "s1", params.SessionID)
}
