package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type InvoiceRequest struct {
	PriceAmount      float64 `json:"price_amount"`
	PriceCurrency    string  `json:"price_currency"`
	OrderID          string  `json:"order_id"`
	OrderDescription string  `json:"order_description,omitempty"`
	IPNCallbackURL   string  `json:"ipn_callback_url,omitempty"`
	SuccessURL       string  `json:"success_url,omitempty"`
	CancelURL        string  `json:"cancel_url,omitempty"`
}

type Invoice struct {
	ID         ID     `json:"id"`
	OrderID    string `json:"order_id"`
	InvoiceURL string `json:"invoice_url"`
}

func (c *Client) CreateInvoice(ctx context.Context, in InvoiceRequest) (Invoice, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return Invoice{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/invoice", bytes.NewReader(body))
	if err != nil {
		return Invoice{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out Invoice
	if err := c.do(req, &out); err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	return out, nil
}

func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payment/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return Payment{}, err
	}
	var out Payment
	if err := c.do(req, &out); err != nil {
		return Payment{}, fmt.Errorf("payment status %s: %w", paymentID, err)
	}
	return out, nil
}

// InvoicePayments lists the payments made against an invoice.
func (c *Client) InvoicePayments(ctx context.Context, invoiceID string) ([]Payment, error) {
	q := url.Values{}
	q.Set("invoiceId", invoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payment/?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []Payment `json:"data"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("invoice payments %s: %w", invoiceID, err)
	}
	return out.Data, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
