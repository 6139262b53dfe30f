package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSlackConnector(server *httptest.Server) *SlackConnector {
	return &SlackConnector{
		httpClient: server.Client(),
		baseURL:    server.URL,
	}
}

func TestSlackGatherThreadUsesReplies(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode(map[string]any{
			"ok":       true,
			"messages": []map[string]any{{"user": "U1", "text": "hello"}},
		})
	}))
	defer server.Close()

	conn := newTestSlackConnector(server)
	messages, err := conn.GatherThread(context.Background(), ThreadQuery{
		ChannelID: "C1", ThreadTS: "171.001", MessageCount: 10,
	})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "hello", messages[0]["text"])

	require.Equal(t, "/conversations.replies", gotPath)
	require.Equal(t, []string{"C1"}, gotQuery["channel"])
	require.Equal(t, []string{"171.001"}, gotQuery["ts"])
	require.Equal(t, []string{"10"}, gotQuery["limit"])
}

func TestSlackGatherThreadFallsBackToHistory(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "messages": []map[string]any{}})
	}))
	defer server.Close()

	conn := newTestSlackConnector(server)
	_, err := conn.GatherThread(context.Background(), ThreadQuery{ChannelID: "C1"})
	require.NoError(t, err)
	require.Equal(t, "/conversations.history", gotPath)
}

func TestSlackPostMessage(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat.postMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	conn := newTestSlackConnector(server)
	require.NoError(t, conn.PostMessage(context.Background(), "C1", "内容", "171.001"))

	require.Equal(t, "C1", gotBody["channel"])
	require.Equal(t, "内容", gotBody["text"])
	require.Equal(t, "171.001", gotBody["thread_ts"])
}

func TestSlackPostMessageOmitsEmptyThreadTS(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer server.Close()

	conn := newTestSlackConnector(server)
	require.NoError(t, conn.PostMessage(context.Background(), "C1", "内容", ""))
	require.NotContains(t, gotBody, "thread_ts")
}

func TestSlackAPIErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "channel_not_found"})
	}))
	defer server.Close()

	conn := newTestSlackConnector(server)
	err := conn.PostMessage(context.Background(), "C404", "内容", "")
	require.Error(t, err)

	var connErr *ConnectorError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, "slack", connErr.Platform)
	require.Contains(t, connErr.Message, "channel_not_found")
}

func TestSlackHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	conn := newTestSlackConnector(server)
	err := conn.PostMessage(context.Background(), "C1", "内容", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 429")
}

func TestSlackGatherThreadRequiresChannel(t *testing.T) {
	conn := &SlackConnector{}
	_, err := conn.GatherThread(context.Background(), ThreadQuery{})
	require.Error(t, err)
}
