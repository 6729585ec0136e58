package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// HTTPProcessor talks to a Razorpay-style REST API with basic auth.
type HTTPProcessor struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

func NewHTTPProcessor(baseURL, keyID, keySecret string, client *http.Client) *HTTPProcessor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProcessor{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		client:    client,
	}
}

type createOrderReq struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type refundReq struct {
	Amount  int64  `json:"amount"`
	Receipt string `json:"receipt"`
}

type idResp struct {
	ID string `json:"id"`
}

type errorResp struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (p *HTTPProcessor) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	var out idResp
	if err := p.post(ctx, "/orders", receipt, createOrderReq{Amount: amountMinor, Currency: currency, Receipt: receipt}, &out); err != nil {
		return "", errors.Wrap(err, "create processor order")
	}
	return out.ID, nil
}

func (p *HTTPProcessor) Refund(ctx context.Context, processorPaymentID string, amountMinor int64, receipt string) (string, error) {
	var out idResp
	path := fmt.Sprintf("/payments/%s/refund", processorPaymentID)
	if err := p.post(ctx, path, receipt, refundReq{Amount: amountMinor, Receipt: receipt}, &out); err != nil {
		return "", errors.Wrap(err, "refund payment")
	}
	return out.ID, nil
}

func (p *HTTPProcessor) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.keyID, p.keySecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(ErrProcessorUnavailable, err.Error())
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(ErrProcessorUnavailable, err.Error())
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return errors.Wrapf(ErrProcessorUnavailable, "status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		var e errorResp
		_ = json.Unmarshal(raw, &e)
		return errors.Wrapf(ErrProcessorRejected, "status %d %s: %s", resp.StatusCode, e.Error.Code, e.Error.Description)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(ErrProcessorUnavailable, "malformed processor response")
	}
	return nil
}
