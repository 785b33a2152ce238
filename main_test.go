package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"parley/internal/auth"
	"parley/internal/models"
	"parley/internal/webhook"
	"parley/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminAddr  = "127.0.0.1:8898"
	apiAddr    = "127.0.0.1:8897"
	authSecret = "very-secure-test-secret"
)

var webhookSecret = "whsec_" + base64.StdEncoding.EncodeToString([]byte("integration-webhook-key"))

func TestIntegration(t *testing.T) {
	t.Setenv("PARLEY_DB", filepath.Join(t.TempDir(), "integration_test.db"))
	t.Setenv("ADMIN_ADDR", adminAddr)
	t.Setenv("API_ADDR", apiAddr)
	t.Setenv("AUTH_SECRET", authSecret)
	t.Setenv("WEBHOOK_SECRET", webhookSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, nil)
	}()

	waitForServer(t, fmt.Sprintf("http://%s/healthz", adminAddr), 50)

	// Step 1: identity provider syncs two users
	syncUser(t, "ext_alice", "Alice")
	syncUser(t, "ext_bob", "Bob")

	issuer, err := auth.NewVerifier(ctx, auth.Config{Secret: authSecret})
	require.NoError(t, err)
	aliceToken, err := issuer.Issue("ext_alice", time.Hour)
	require.NoError(t, err)
	bobToken, err := issuer.Issue("ext_bob", time.Hour)
	require.NoError(t, err)

	// Step 2: Alice looks Bob up
	var others []models.User
	call(t, aliceToken, "query", "users.listExcluding", map[string]any{"search": "bo"}, &others)
	require.Len(t, others, 1)
	bobID := others[0].ID

	// Step 3: Alice subscribes to her conversation list
	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/api/live?token=%s", apiAddr, aliceToken), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()

	require.NoError(t, conn.WriteJSON(ws.ClientMessage{Type: ws.ClientMessageTypeSubscribe, ID: "convs", Name: "conversations.listForUser"}))
	assert.Empty(t, readSummaries(t, conn))

	// Step 4: Alice opens a DM, the subscription follows
	var convID string
	call(t, aliceToken, "mutation", "conversations.getOrCreateDM", map[string]any{"otherUserId": bobID}, &convID)
	require.NotEmpty(t, convID)

	summaries := readSummaries(t, conn)
	require.Len(t, summaries, 1)
	assert.Equal(t, convID, summaries[0].ID)
	require.NotNil(t, summaries[0].OtherUser)
	assert.Equal(t, "Bob", summaries[0].OtherUser.DisplayName)

	// Step 5: Bob replies, Alice sees the preview and the unread count
	var msgID string
	call(t, bobToken, "mutation", "messages.sendMessage", map[string]any{"conversationId": convID, "body": "hi alice"}, &msgID)

	summaries = readSummaries(t, conn)
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "hi alice", summaries[0].LastMessage.Body)
	assert.Equal(t, 1, summaries[0].UnreadCount)

	// Step 6: mutations over the live connection
	require.NoError(t, conn.WriteJSON(ws.ClientMessage{
		Type: ws.ClientMessageTypeMutation,
		ID:   "read",
		Name: "conversations.markAsRead",
		Args: json.RawMessage(fmt.Sprintf(`{"conversationId":%q,"messageId":%q}`, convID, msgID)),
	}))
	// the reply and the refreshed list may arrive in either order
	var sawReply, sawRead bool
	for !sawReply || !sawRead {
		msg := readMessage(t, conn)
		switch msg.Type {
		case ws.ServerMessageTypeMutation:
			assert.Equal(t, "read", msg.ID)
			sawReply = true
		case ws.ServerMessageTypeResult:
			var list []models.ConversationSummary
			require.NoError(t, json.Unmarshal(msg.Value, &list))
			require.Len(t, list, 1)
			assert.Equal(t, 0, list[0].UnreadCount)
			sawRead = true
		default:
			t.Fatalf("unexpected message: %+v", msg)
		}
	}

	// Step 7: metrics are exposed on the admin port
	metrics, err := http.Get(fmt.Sprintf("http://%s/metrics", adminAddr))
	require.NoError(t, err)
	body, err := io.ReadAll(metrics.Body)
	_ = metrics.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "parley_operations_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func syncUser(t *testing.T, externalID, firstName string) {
	t.Helper()
	body, err := json.Marshal(webhook.Event{
		Type: webhook.EventUserCreated,
		Data: webhook.EventUser{ID: externalID, FirstName: &firstName},
	})
	require.NoError(t, err)

	now := time.Now()
	sig, err := webhook.Sign(webhookSecret, "msg_"+externalID, now, body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/webhooks/identity", apiAddr), bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("svix-id", "msg_"+externalID)
	req.Header.Set("svix-timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("svix-signature", sig)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func call(t *testing.T, token, kind, name string, args map[string]any, out any) {
	t.Helper()
	body, err := json.Marshal(args)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/api/%s/%s", apiAddr, kind, name), bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var result struct {
		Value json.RawMessage `json:"value"`
		Error string          `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, http.StatusOK, resp.StatusCode, result.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(result.Value, out))
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) ws.ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ws.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readSummaries(t *testing.T, conn *websocket.Conn) []models.ConversationSummary {
	t.Helper()
	msg := readMessage(t, conn)
	require.Equal(t, ws.ServerMessageTypeResult, msg.Type, msg.Error)
	var list []models.ConversationSummary
	require.NoError(t, json.Unmarshal(msg.Value, &list))
	return list
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
