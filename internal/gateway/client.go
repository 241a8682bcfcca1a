// Package gateway реализует HTTP-клиент шлюза провайдера (немедленная и отложенная отправка SMS/WhatsApp).
// Шлюз возвращает подтверждённую запись сообщения в том же формате, что и хранилище.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/connectsocial/internal/logger"
	"github.com/connectsocial/internal/model"
)

const (
	sendPath     = "/v1/messages"
	schedulePath = "/v1/schedules"
	maxErrorBody = 64 << 10
)

var ErrNotConfigured = errors.New("gateway: url not configured")

// ProviderError: отказ провайдера. Code = 0, если код не удалось извлечь.
type ProviderError struct {
	Status  int
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider error %d (http %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (http %d): %s", e.Status, e.Message)
}

// Client вызывает шлюз провайдера.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient создаёт клиент. baseURL пустой: все вызовы возвращают ErrNotConfigured.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send отправляет сообщение сразу. Для WhatsApp с TemplateID шлюз собирает шаблонный payload.
func (c *Client) Send(ctx context.Context, req model.SendRequest) (model.RawMessage, error) {
	defer logger.DeferLogDuration("gateway.Send", time.Now())()
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	return c.post(ctx, sendPath, req.Channel, req.IdempotencyKey, req)
}

// ScheduleSend ставит отложенную отправку на req.At (UTC).
func (c *Client) ScheduleSend(ctx context.Context, req model.ScheduleRequest) (model.RawMessage, error) {
	defer logger.DeferLogDuration("gateway.ScheduleSend", time.Now())()
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	req.At = req.At.UTC()
	return c.post(ctx, schedulePath, req.Channel, req.IdempotencyKey, req)
}

func (c *Client) post(ctx context.Context, path string, ch model.Channel, key string, payload any) (model.RawMessage, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	raw, err := DecodeRaw(resp.Body, ch)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", path, err)
	}
	return raw, nil
}

// DecodeRaw reads one confirmed record into the variant of ch.
func DecodeRaw(r io.Reader, ch model.Channel) (model.RawMessage, error) {
	switch ch {
	case model.ChannelSMS:
		var m model.RawSMS
		if err := json.NewDecoder(r).Decode(&m); err != nil {
			return nil, fmt.Errorf("decode sms record: %w", err)
		}
		return m, nil
	case model.ChannelWhatsApp:
		var m model.RawWhatsApp
		if err := json.NewDecoder(r).Decode(&m); err != nil {
			return nil, fmt.Errorf("decode whatsapp record: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", ch)
	}
}

type errorBody struct {
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
	Error   string      `json:"error"`
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	pe := &ProviderError{Status: resp.StatusCode}

	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil {
		pe.Message = eb.Message
		if pe.Message == "" {
			pe.Message = eb.Error
		}
		if n, err := strconv.Atoi(eb.Code.String()); err == nil {
			pe.Code = n
		}
	} else {
		pe.Message = strings.TrimSpace(string(data))
	}

	msg, code := SplitCode(pe.Message)
	pe.Message = msg
	if pe.Code == 0 {
		pe.Code = code
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(resp.StatusCode)
	}
	return pe
}

// SplitCode splits "The 'To' number is not valid Code: 21614" into the text and 21614.
// Messages without a code are returned unchanged with code 0.
func SplitCode(s string) (string, int) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "Error : ")
	i := strings.LastIndex(s, " Code:")
	if i < 0 {
		return s, 0
	}
	rest := strings.TrimSpace(s[i+len(" Code:"):])
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	code, err := strconv.Atoi(rest[:end])
	if err != nil {
		return s, 0
	}
	return strings.TrimSpace(s[:i]), code
}

// CodeOf extracts the provider code from err, or 0.
func CodeOf(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}
