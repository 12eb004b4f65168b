package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPGateway posts messages to an external gateway endpoint, for
// deployments where the chat frontend runs as a separate process.
type HTTPGateway struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewHTTPGateway(endpoint, token string) *HTTPGateway {
	return &HTTPGateway{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (g *HTTPGateway) Notify(ctx context.Context, recipient string, msg Message) error {
	body, err := json.Marshal(map[string]any{"recipient": recipient, "message": msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}

// Fanout tries each gateway in order and stops at the first success: live
// websocket first, HTTP fallback for recipients without a session.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, recipient string, msg Message) error {
	var lastErr error
	for _, n := range f {
		if err := n.Notify(ctx, recipient, msg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = ErrNoSession
	}
	return lastErr
}
