package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/develoFavour/MediCare-sub000/internal/types"
)

// Gateway is the persistence surface the messaging core calls. Every write
// is durable before the call returns; callers do not retry on failure.
type Gateway interface {
	ListConversations(ctx context.Context) ([]types.Conversation, error)
	UnreadCounts(ctx context.Context) (map[string]int, error)
	ListMessages(ctx context.Context, conversationId string) ([]types.Message, error)
	SendMessage(ctx context.Context, conversationId, content string) (types.Message, error)
	StartConversation(ctx context.Context, participantId int) (types.Conversation, error)
	MarkConversationRead(ctx context.Context, conversationId string) error
	MarkMessageRead(ctx context.Context, messageId string) error
	MarkMessageDelivered(ctx context.Context, messageId string) error
}

type HTTPGateway struct {
	baseURL string
	client  *http.Client
	log     *log.Logger
}

// NewHTTPGateway returns a Gateway over the REST API at baseURL. The
// http.Client carries session credentials (cookie jar) and is owned by the
// caller.
func NewHTTPGateway(baseURL string, client *http.Client, logger *log.Logger) *HTTPGateway {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     logger,
	}
}

func (g *HTTPGateway) ListConversations(ctx context.Context) ([]types.Conversation, error) {
	var convs []types.Conversation
	if err := g.do(ctx, http.MethodGet, "/api/conversations", nil, &convs); err != nil {
		return nil, err
	}

	return convs, nil
}

func (g *HTTPGateway) UnreadCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	if err := g.do(ctx, http.MethodGet, "/api/conversations/unread", nil, &counts); err != nil {
		return nil, err
	}

	return counts, nil
}

func (g *HTTPGateway) ListMessages(ctx context.Context, conversationId string) ([]types.Message, error) {
	var msgs []types.Message
	if err := g.do(ctx, http.MethodGet, "/api/conversations/"+conversationId+"/messages", nil, &msgs); err != nil {
		return nil, err
	}

	return msgs, nil
}

func (g *HTTPGateway) SendMessage(ctx context.Context, conversationId, content string) (types.Message, error) {
	var msg types.Message
	body := map[string]string{"content": content}
	if err := g.do(ctx, http.MethodPost, "/api/conversations/"+conversationId+"/messages", body, &msg); err != nil {
		return types.Message{}, err
	}

	return msg, nil
}

func (g *HTTPGateway) StartConversation(ctx context.Context, participantId int) (types.Conversation, error) {
	var conv types.Conversation
	body := map[string]int{"participant_id": participantId}
	if err := g.do(ctx, http.MethodPost, "/api/conversations", body, &conv); err != nil {
		return types.Conversation{}, err
	}

	return conv, nil
}

func (g *HTTPGateway) MarkConversationRead(ctx context.Context, conversationId string) error {
	return g.do(ctx, http.MethodPost, "/api/conversations/"+conversationId+"/read", nil, nil)
}

func (g *HTTPGateway) MarkMessageRead(ctx context.Context, messageId string) error {
	return g.do(ctx, http.MethodPost, "/api/messages/"+messageId+"/read", nil, nil)
}

func (g *HTTPGateway) MarkMessageDelivered(ctx context.Context, messageId string) error {
	return g.do(ctx, http.MethodPost, "/api/messages/"+messageId+"/delivered", nil, nil)
}

// do runs one request. Non-2xx responses are read as text and returned as
// an error carrying the status, so callers can surface them verbatim.
func (g *HTTPGateway) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(text)))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
