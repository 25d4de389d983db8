// Package telegram предоставляет клиент Bot API для исходящих уведомлений.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured возвращается, если токен бота не задан.
var ErrNotConfigured = errors.New("telegram client not configured")

// RetryAfterError возвращается, когда Bot API просит подождать перед повтором.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("telegram: too many requests, retry after %s", e.After)
}

// APIError описывает ответ Bot API с ok=false.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %d %s", e.Code, e.Description)
}

// Client инкапсулирует HTTP-взаимодействие с Bot API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// NewClient создаёт клиент Bot API по адресу baseURL с токеном token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	if c == nil || c.token == "" || c.baseURL == "" {
		return ErrNotConfigured
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", base, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url содержит токен, поэтому наружу отдаём только тип ошибки
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("do request %s: %w", method, urlErr.Err)
		}
		return fmt.Errorf("do request %s: %w", method, err)
	}
	defer resp.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || decoded.ErrorCode == http.StatusTooManyRequests {
		retryAfter := time.Second
		if decoded.Parameters != nil && decoded.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(decoded.Parameters.RetryAfter) * time.Second
		}
		return &RetryAfterError{After: retryAfter}
	}

	if !decoded.OK {
		code := decoded.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Code: code, Description: decoded.Description}
	}

	if result != nil {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// SendMessage отправляет текстовое сообщение в чат chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := struct {
		ChatID int64  `json:"chat_id"`
		Text   string `json:"text"`
	}{ChatID: chatID, Text: text}

	return c.call(ctx, "sendMessage", payload, nil)
}

// GetChatMemberStatus возвращает статус пользователя в канале channel («member», «left» и т.д.).
func (c *Client) GetChatMemberStatus(ctx context.Context, channel string, userID int64) (string, error) {
	payload := struct {
		ChatID string `json:"chat_id"`
		UserID int64  `json:"user_id"`
	}{ChatID: channel, UserID: userID}

	var member struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, "getChatMember", payload, &member); err != nil {
		return "", err
	}
	return member.Status, nil
}

// IsMemberStatus сообщает, считается ли статус подпиской на канал.
func IsMemberStatus(status string) bool {
	switch status {
	case "member", "administrator", "creator":
		return true
	default:
		return false
	}
}
