package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

//go:generate mockgen -destination=mock/gateway.go -package=mock coin-settlement/pkg/paypal Gateway

// Gateway is the subset of the PayPal REST API the settlement flows use.
// Every call is a synchronous round trip; the token is passed explicitly so a
// batch run can reuse one token for all items.
type Gateway interface {
	AccessToken(ctx context.Context) (string, error)
	CreateOrder(ctx context.Context, token string, req CreateOrderRequest) (*Order, error)
	CaptureOrder(ctx context.Context, token, orderID string) (*Order, error)
	GetOrder(ctx context.Context, token, orderID string) (*Order, error)
	CreatePayout(ctx context.Context, token string, batch PayoutBatch) (*PayoutBatchResult, error)
	GetPayoutBatch(ctx context.Context, token, batchID string) (*PayoutBatchResult, error)
	VerifyWebhookSignature(ctx context.Context, token string, v WebhookVerification, event json.RawMessage) (bool, error)
}

const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"
)

// BaseURL maps the configured mode to the API host. Anything other than
// "live" is treated as sandbox.
func BaseURL(mode string) string {
	if strings.EqualFold(mode, "live") {
		return LiveBaseURL
	}
	return SandboxBaseURL
}

type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	Timeout      time.Duration
}

type Client struct {
	rest       *resty.Client
	httpClient *http.Client
	oauth      clientcredentials.Config
	webhookID  string
}

var _ Gateway = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")

	httpClient := &http.Client{Timeout: opts.Timeout}
	return &Client{
		rest: resty.NewWithClient(httpClient).
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		httpClient: httpClient,
		oauth: clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     baseURL + "/v1/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		webhookID: opts.WebhookID,
	}
}

func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.oauth.ClientID == "" || c.oauth.ClientSecret == "" {
		return "", ErrNotConfigured
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.Token(ctx)
	if err != nil {
		zap.L().Error("paypal token request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return tok.AccessToken, nil
}

func (c *Client) CreateOrder(ctx context.Context, token string, req CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, token, http.MethodPost, "/v2/checkout/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) CaptureOrder(ctx context.Context, token, orderID string) (*Order, error) {
	var order Order
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(orderID))
	err := c.do(ctx, token, http.MethodPost, path, struct{}{}, &order)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusUnprocessableEntity && apiErr.HasIssue(IssueOrderAlreadyCaptured) {
		return nil, fmt.Errorf("%w: %v", ErrOrderAlreadyCaptured, apiErr)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) GetOrder(ctx context.Context, token, orderID string) (*Order, error) {
	var order Order
	path := fmt.Sprintf("/v2/checkout/orders/%s", url.PathEscape(orderID))
	if err := c.do(ctx, token, http.MethodGet, path, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) CreatePayout(ctx context.Context, token string, batch PayoutBatch) (*PayoutBatchResult, error) {
	var result PayoutBatchResult
	if err := c.do(ctx, token, http.MethodPost, "/v1/payments/payouts", batch, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetPayoutBatch(ctx context.Context, token, batchID string) (*PayoutBatchResult, error) {
	var result PayoutBatchResult
	path := fmt.Sprintf("/v1/payments/payouts/%s", url.PathEscape(batchID))
	if err := c.do(ctx, token, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type verifyWebhookRequest struct {
	WebhookVerification
	WebhookEvent json.RawMessage `json:"webhook_event"`
}

type verifyWebhookResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyWebhookSignature asks PayPal to validate a delivery. The configured
// webhook id wins over v.WebhookID.
func (c *Client) VerifyWebhookSignature(ctx context.Context, token string, v WebhookVerification, event json.RawMessage) (bool, error) {
	if c.webhookID != "" {
		v.WebhookID = c.webhookID
	}
	if v.WebhookID == "" {
		return false, ErrNotConfigured
	}

	var resp verifyWebhookResponse
	body := verifyWebhookRequest{WebhookVerification: v, WebhookEvent: event}
	if err := c.do(ctx, token, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, &resp); err != nil {
		return false, err
	}
	return resp.VerificationStatus == "SUCCESS", nil
}

func (c *Client) do(ctx context.Context, token, method, path string, body, out any) error {
	req := c.rest.R().
		SetContext(ctx).
		SetAuthToken(token)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("paypal: %s %s: %w", method, path, err)
	}

	if resp.IsError() {
		apiErr := &APIError{StatusCode: resp.StatusCode()}
		_ = json.Unmarshal(resp.Body(), apiErr)
		zap.L().Warn("paypal request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()),
			zap.String("debug_id", apiErr.DebugID),
		)
		return apiErr
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("paypal: decode %s: %w", path, err)
	}
	return nil
}
