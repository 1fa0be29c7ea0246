package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"alphaforge/internal/config"
	"alphaforge/internal/logger"
)

// Client 访问一个 OpenAI 兼容的 chat completions 端点。
type Client struct {
	id          string
	baseURL     string
	apiKey      string
	model       string
	headers     map[string]string
	temperature float64
	maxRetries  int
	httpClient  *http.Client
}

func NewClient(cfg config.LLMModelConfig, temperature float64) *Client {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 120
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	if temperature <= 0 {
		temperature = 0.7
	}
	id := cfg.ID
	if id == "" {
		id = cfg.Model
	}
	return &Client{
		id:          id,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		headers:     cfg.Headers,
		temperature: temperature,
		maxRetries:  retries,
		httpClient:  &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

func (c *Client) ID() string { return c.id }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat 发送一轮对话并返回模型的文本回复。
// 429 与 5xx 重试，重试间隔优先听 Retry-After，4xx 直接失败。
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt, lastErr)
			logger.Warnf("[llm] %s 第 %d 次重试，等待 %s: %v", c.id, attempt, wait, lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
		content, retryable, err := c.doChat(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", fmt.Errorf("llm: %s 重试 %d 次后仍失败: %w", c.id, c.maxRetries, lastErr)
}

type retryAfterError struct {
	after time.Duration
	cause error
}

func (e *retryAfterError) Error() string { return e.cause.Error() }

func (c *Client) doChat(ctx context.Context, body []byte) (string, bool, error) {
	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	logger.Debugf("[llm] POST %s model=%s auth=%s", endpoint, c.model, maskKey(c.apiKey))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("llm: 请求 %s 失败: %w", c.id, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		err := fmt.Errorf("llm: %s 返回 %d: %s", c.id, resp.StatusCode, truncate(string(raw), 200))
		if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			return "", true, &retryAfterError{after: after, cause: err}
		}
		return "", true, err
	}
	if resp.StatusCode/100 != 2 {
		return "", false, fmt.Errorf("llm: %s 返回 %d: %s", c.id, resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", false, fmt.Errorf("llm: 解析 %s 响应失败: %w", c.id, err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("llm: %s 返回错误: %s", c.id, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", false, fmt.Errorf("llm: %s 返回空回复", c.id)
	}
	return parsed.Choices[0].Message.Content, false, nil
}

func backoff(attempt int, lastErr error) time.Duration {
	if ra, ok := lastErr.(*retryAfterError); ok && ra.after > 0 {
		return ra.after
	}
	d := time.Duration(1<<uint(attempt-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
