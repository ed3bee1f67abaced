// Package ntfy implements capability.Notifier against the ntfy.sh
// publish/subscribe protocol: a plain HTTP POST/PUT to publish, and a
// long-lived GET against the topic's /json stream to subscribe.
package ntfy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mblakley/soccer-cam-go/capability"
)

// Client is a capability.Notifier backed by a single ntfy topic.
type Client struct {
	baseURL string
	topic   string
	http    *http.Client
}

func New(serverURL, topic string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		topic:   topic,
		http:    &http.Client{}, // no timeout: Send uses context, Subscribe streams indefinitely
	}
}

// Send publishes one message. An attached image is sent as a raw PUT
// body per ntfy's file-upload convention; otherwise the message text is
// POSTed as the body and headers carry title/tags/priority/actions.
func (c *Client) Send(ctx context.Context, message, title string, tags []string, priority int, image []byte, actions []capability.NotifierAction) (bool, error) {
	method := http.MethodPost
	var body io.Reader = strings.NewReader(message)
	if len(image) > 0 {
		method = http.MethodPut
		body = bytes.NewReader(image)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+c.topic, body)
	if err != nil {
		return false, fmt.Errorf("building ntfy request: %w", err)
	}
	if title != "" {
		req.Header.Set("Title", title)
	}
	if len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if priority > 0 {
		req.Header.Set("Priority", strconv.Itoa(priority))
	}
	if len(actions) > 0 {
		encoded, err := encodeActions(actions)
		if err != nil {
			return false, fmt.Errorf("encoding ntfy actions: %w", err)
		}
		req.Header.Set("Actions", encoded)
	}
	if len(image) > 0 {
		req.Header.Set("Filename", "screenshot.jpg")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("sending ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode < 400, nil
}

// wireAction is ntfy's JSON action-button schema, sent in the Actions
// header as a JSON array.
type wireAction struct {
	Action  string            `json:"action"`
	Label   string            `json:"label"`
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	Clear   bool              `json:"clear"`
}

func encodeActions(actions []capability.NotifierAction) (string, error) {
	wire := make([]wireAction, len(actions))
	for i, a := range actions {
		wire[i] = wireAction{
			Action:  "http",
			Label:   a.Label,
			Method:  http.MethodPost,
			Headers: map[string]string{"Content-Type": "text/plain"},
			Body:    a.Payload,
			Clear:   true,
		}
	}
	encoded, err := json.Marshal(wire)
	return string(encoded), err
}

// ntfyEvent is one line of the /json SSE-style stream.
type ntfyEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
	Title   string `json:"title"`
	Tags    []string `json:"tags"`
}

// SubscribeEvents opens the topic's newline-delimited JSON stream and
// decodes each "message" event onto the returned channel. The channel is
// closed when ctx is canceled or the stream ends; callers needing
// reconnect-on-drop behavior (the notifier's subscribe loop does) should
// call SubscribeEvents again after the channel closes.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan capability.NotifierEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+c.topic+"/json", nil)
	if err != nil {
		return nil, fmt.Errorf("building ntfy subscribe request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to ntfy stream: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("ntfy stream returned HTTP %d", resp.StatusCode)
	}

	out := make(chan capability.NotifierEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var ev ntfyEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				continue
			}
			if ev.Event != "message" {
				continue
			}
			select {
			case out <- capability.NotifierEvent{Message: ev.Message, Title: ev.Title, Tags: ev.Tags}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
