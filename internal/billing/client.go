// Package billing предоставляет клиент для внешней платёжной системы.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Статусы платежа, возвращаемые платёжной системой.
const (
	ChargeStatusConfirmed = "CONFIRMED"
	ChargeStatusDeclined  = "DECLINED"
)

// Client инкапсулирует HTTP-взаимодействие с платёжной системой.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ChargeRequest описывает запрос на списание оплаты за продление подписки.
type ChargeRequest struct {
	SubscriptionID int64   `json:"subscription_id"`
	Amount         float64 `json:"amount"`
}

// ChargeResult описывает ответ платёжной системы по одному списанию.
type ChargeResult struct {
	SubscriptionID int64  `json:"subscription_id"`
	Status         string `json:"status"`
}

// NewClient создаёт HTTP-клиент для обращения к платёжной системе по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// ChargeSubscription запрашивает списание оплаты за продление указанной подписки.
// Сумма передаётся в копейках и конвертируется в денежные единицы на границе API.
func (c *Client) ChargeSubscription(ctx context.Context, subscriptionID, amountCents int64) (*ChargeResult, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, fmt.Errorf("billing client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/payments", base)

	payload, err := json.Marshal(ChargeRequest{
		SubscriptionID: subscriptionID,
		Amount:         float64(amountCents) / 100,
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}

	return &result, resp.StatusCode, 0, nil
}
