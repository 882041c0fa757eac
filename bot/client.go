// Package bot is the Telegram front end: it long-polls the Bot API and turns
// chat commands into ledger operations.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const parseModeHTML = "HTML"

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Client is the subset of the Bot API the poller needs.
type Client interface {
	GetMe(ctx context.Context) (User, error)
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// APIError is a response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.Code, e.Description)
}

type httpClient struct {
	baseURL string
	client  *http.Client
}

// NewClient talks to apiURL (https://api.telegram.org or a local Bot API
// server). The HTTP timeout leaves room for the long-poll timeout.
func NewClient(apiURL, token string, pollTimeout time.Duration) Client {
	return &httpClient{
		baseURL: fmt.Sprintf("%s/bot%s", apiURL, token),
		client: &http.Client{
			Timeout: pollTimeout + 5*time.Second,
		},
	}
}

func (c *httpClient) GetMe(ctx context.Context) (User, error) {
	var me User
	err := c.call(ctx, http.MethodGet, "getMe", nil, nil, &me)
	return me, err
}

func (c *httpClient) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(int(timeout.Seconds())))

	var updates []Update
	err := c.call(ctx, http.MethodGet, "getUpdates", params, nil, &updates)
	return updates, err
}

func (c *httpClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": parseModeHTML,
	}
	var sent Message
	return c.call(ctx, http.MethodPost, "sendMessage", nil, payload, &sent)
}

func (c *httpClient) call(ctx context.Context, httpMethod, method string, params url.Values, body interface{}, out interface{}) error {
	endpoint := c.baseURL + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", method, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response body: %w", method, err)
	}

	var apiResp apiResponse[json.RawMessage]
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return fmt.Errorf("failed to decode %s response (http status %d): %w", method, resp.StatusCode, err)
	}
	if !apiResp.OK {
		return &APIError{Method: method, Code: apiResp.ErrorCode, Description: apiResp.Description}
	}

	if err := json.Unmarshal(apiResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}
