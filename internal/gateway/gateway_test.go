package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/develoFavour/MediCare-sub000/internal/testutil"
	"github.com/develoFavour/MediCare-sub000/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListConversations(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/conversations", r.URL.Path)

		json.NewEncoder(w).Encode([]types.Conversation{
			{Id: "c1", UnreadCount: 2, UpdatedAt: now},
		})
	}))
	defer ts.Close()

	gw := NewHTTPGateway(ts.URL, ts.Client(), testutil.TestLogger(t))

	convs, err := gw.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].Id)
	assert.Equal(t, 2, convs[0].UnreadCount)
}

func TestSendMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["content"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(types.Message{Id: "m1", ConversationId: "c1", Content: "hello"})
	}))
	defer ts.Close()

	gw := NewHTTPGateway(ts.URL, ts.Client(), testutil.TestLogger(t))

	msg, err := gw.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.Id)
}

func TestNonSuccessStatusSurfacesBodyText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conversation not found", http.StatusNotFound)
	}))
	defer ts.Close()

	gw := NewHTTPGateway(ts.URL, ts.Client(), testutil.TestLogger(t))

	_, err := gw.ListMessages(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "conversation not found")
}

func TestMarkersPostToExpectedPaths(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	gw := NewHTTPGateway(ts.URL, ts.Client(), testutil.TestLogger(t))

	require.NoError(t, gw.MarkConversationRead(context.Background(), "c1"))
	require.NoError(t, gw.MarkMessageRead(context.Background(), "m1"))
	require.NoError(t, gw.MarkMessageDelivered(context.Background(), "m1"))

	assert.Equal(t, []string{
		"/api/conversations/c1/read",
		"/api/messages/m1/read",
		"/api/messages/m1/delivered",
	}, paths)
}

func TestStartConversation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 7, body["participant_id"])

		json.NewEncoder(w).Encode(types.Conversation{Id: "c9"})
	}))
	defer ts.Close()

	gw := NewHTTPGateway(ts.URL, ts.Client(), testutil.TestLogger(t))

	conv, err := gw.StartConversation(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "c9", conv.Id)
}

func TestContextCancellation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	gw := NewHTTPGateway(ts.URL, ts.Client(), testutil.TestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gw.UnreadCounts(ctx)
	assert.Error(t, err)
}
