// internal/payment/paypal.go
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	httpclient "entitlement-workers/internal/common/http"
)

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Timeout      time.Duration
}

// PayPalClient talks to the Orders v2 REST API. Access tokens are fetched with
// the client-credentials grant and cached until they expire.
type PayPalClient struct {
	http *httpclient.Client
}

func NewPayPalClient(cfg PayPalConfig) *PayPalClient {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	hc := cc.Client(tokenCtx)
	hc.Timeout = timeout

	return &PayPalClient{
		http: httpclient.NewClientWithHTTP(hc, baseURL).
			WithHeader("Prefer", "return=representation"),
	}
}

func (c *PayPalClient) GetOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	if err := c.http.DoJSON(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(id), nil, &order); err != nil {
		return nil, translatePayPalError(err)
	}
	return &order, nil
}

func (c *PayPalClient) CaptureOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(id))
	if err := c.http.DoJSON(ctx, http.MethodPost, path, struct{}{}, &order); err != nil {
		return nil, translatePayPalError(err)
	}
	return &order, nil
}

type paypalErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (b paypalErrorBody) hasIssue(issue string) bool {
	for _, d := range b.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

func translatePayPalError(err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	var body paypalErrorBody
	_ = json.Unmarshal(statusErr.Body, &body)

	switch {
	case statusErr.StatusCode == http.StatusNotFound || body.Name == "RESOURCE_NOT_FOUND":
		return fmt.Errorf("%w: paypal debug_id %s", ErrNotFound, body.DebugID)
	case statusErr.StatusCode == http.StatusUnprocessableEntity && body.hasIssue("ORDER_ALREADY_CAPTURED"):
		return ErrAlreadyCaptured
	case isRejection(statusErr.StatusCode):
		return &RejectedError{Status: statusErr.StatusCode, Issue: body.issue(statusErr.StatusCode)}
	default:
		return statusErr
	}
}

// issue picks the most specific reason PayPal gave.
func (b paypalErrorBody) issue(status int) string {
	for _, d := range b.Details {
		if d.Issue != "" {
			return d.Issue
		}
	}
	if b.Name != "" {
		return b.Name
	}
	return http.StatusText(status)
}
