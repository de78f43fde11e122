package homeassistant

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/spooni01/ha-automation-of-todo/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://ha.local:8123"

func newMockedClient(t *testing.T, token string) *Client {
	t.Helper()
	c := NewClient(testBaseURL+"/", token, time.Second, logger.NewNop())
	httpmock.ActivateNonDefault(c.http.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestClient_CallService(t *testing.T) {
	c := newMockedClient(t, "secret-token")

	var gotAuth string
	var gotBody map[string]any
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/services/todo/add_item",
		func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			if err := json.NewDecoder(req.Body).Decode(&gotBody); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(http.StatusOK, `[]`), nil
		})

	err := c.CallService(t.Context(), "todo", "add_item", map[string]any{
		"entity_id": "todo.automatizovane",
		"item":      "Water plants",
		"due_date":  "2026-10-15",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "todo.automatizovane", gotBody["entity_id"])
	assert.Equal(t, "Water plants", gotBody["item"])
	assert.Equal(t, "2026-10-15", gotBody["due_date"])
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestClient_CallServiceHTTPError(t *testing.T) {
	c := newMockedClient(t, "t")

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/services/persistent_notification/create",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"message":"Invalid service data"}`))

	err := c.CallService(t.Context(), "persistent_notification", "create", map[string]any{"title": "x"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "Invalid service data")
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "service calls must not be retried")
}

func TestClient_CallServiceTransportError(t *testing.T) {
	c := newMockedClient(t, "t")

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/services/todo/add_item",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	err := c.CallService(t.Context(), "todo", "add_item", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "todo.add_item")
}

func TestClient_Ping(t *testing.T) {
	c := newMockedClient(t, "t")

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/",
		httpmock.NewStringResponder(http.StatusOK, `{"message":"API running."}`))
	require.NoError(t, c.Ping(t.Context()))

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/",
		httpmock.NewStringResponder(http.StatusUnauthorized, `401: Unauthorized`))
	assert.ErrorIs(t, c.Ping(t.Context()), ErrAuthInvalid)
}

func TestWebsocketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://homeassistant.local:8123", want: "ws://homeassistant.local:8123/api/websocket"},
		{in: "https://ha.example.com/", want: "wss://ha.example.com/api/websocket"},
		{in: "http://supervisor/core", want: "ws://supervisor/core/api/websocket"},
		{in: "ftp://ha.local", wantErr: true},
	}
	for _, tt := range tests {
		got, err := WebsocketURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
