// Package paypalpay implements payrail.Gateway against PayPal's Orders v2
// API using plain net/http — no SDK, matching the rest of this codebase's
// hand-rolled PayPal client.
package paypalpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	PayPalSandboxAPI    = "https://api-m.sandbox.paypal.com"
	PayPalProductionAPI = "https://api-m.paypal.com"
)

// PayPalRail implements PayPal order capture and refund.
type PayPalRail struct {
	clientID     string
	clientSecret string
	baseURL      string
	accessToken  string
	tokenExpiry  time.Time
	client       *http.Client
}

// NewPayPalRail builds a rail against the sandbox or production API.
func NewPayPalRail(clientID, clientSecret, baseURL string) *PayPalRail {
	if baseURL == "" {
		baseURL = PayPalSandboxAPI
	}
	return &PayPalRail{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      baseURL,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

// InitiateCapture creates a PayPal order with intent CAPTURE for the given
// amount and returns the PayPal order id. It does not call the order's
// capture endpoint.
func (pr *PayPalRail) InitiateCapture(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (string, error) {
	if err := pr.ensureAccessToken(ctx); err != nil {
		return "", err
	}

	order := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": orderID,
				"amount": map[string]string{
					"currency_code": currency,
					"value":         amount.StringFixed(2),
				},
			},
		},
	}
	body, _ := json.Marshal(order)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pr.baseURL+"/v2/checkout/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+pr.accessToken)

	resp, err := pr.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("paypal order creation failed: %s", string(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", err
	}
	paypalOrderID, _ := result["id"].(string)

	log.WithFields(log.Fields{
		"order_id":        orderID,
		"paypal_order_id": paypalOrderID,
		"amount":          amount,
		"currency":        currency,
	}).Info("initiated paypal capture")

	return paypalOrderID, nil
}

// RefundCapture refunds a previously captured PayPal order.
func (pr *PayPalRail) RefundCapture(ctx context.Context, captureID string, amount decimal.Decimal) error {
	if err := pr.ensureAccessToken(ctx); err != nil {
		return err
	}

	refund := map[string]interface{}{
		"amount": map[string]string{
			"value":         amount.StringFixed(2),
			"currency_code": "USD",
		},
	}
	body, _ := json.Marshal(refund)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pr.baseURL+"/v2/payments/captures/"+captureID+"/refund", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+pr.accessToken)

	resp, err := pr.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("paypal refund failed: %s", string(respBody))
	}

	log.WithFields(log.Fields{"capture_id": captureID, "amount": amount}).Info("refunded paypal capture")
	return nil
}

// ensureAccessToken obtains or refreshes the client-credentials token.
func (pr *PayPalRail) ensureAccessToken(ctx context.Context) error {
	if time.Now().Before(pr.tokenExpiry) && pr.accessToken != "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pr.baseURL+"/v1/oauth2/token",
		bytes.NewReader([]byte("grant_type=client_credentials")))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(pr.clientID, pr.clientSecret)

	resp, err := pr.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return err
	}

	token, _ := result["access_token"].(string)
	expiresIn, _ := result["expires_in"].(float64)
	pr.accessToken = token
	pr.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)

	log.Info("obtained paypal access token")
	return nil
}
