/**
 * @description
 * This package provides a client for the Airtel Money Open API. It
 * encapsulates OAuth2 token acquisition, merchant collection requests (the
 * debit leg) and paybill-to-customer B2C disbursements (the credit leg).
 *
 * When the UAT gateway is unreachable and simulation is enabled, calls
 * degrade to a simulated accepted payload flagged with "simulation": true.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, time: Standard Go libraries.
 * - github.com/google/uuid: Transaction reference generation.
 * - github.com/shopspring/decimal: Monetary amounts.
 * - internal/domain: The network adapter contract.
 * - pkg/msisdn: Phone number normalization.
 */
package airtel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paybridge/settlement-service/internal/domain"
	"github.com/paybridge/settlement-service/pkg/msisdn"
)

// Client is a client for the Airtel Money Open API.
type Client struct {
	BaseURL          string
	ClientID         string
	ClientSecret     string
	PIN              string
	Country          string
	Currency         string
	SettlementMSISDN string
	Simulate         bool
	HTTPClient       *http.Client
}

// NewClient creates a new Airtel Money API client.
func NewClient(baseURL, clientID, clientSecret, pin, settlementMSISDN string, simulate bool) *Client {
	return &Client{
		BaseURL:          strings.TrimRight(baseURL, "/"),
		ClientID:         clientID,
		ClientSecret:     clientSecret,
		PIN:              pin,
		Country:          "KEN",
		Currency:         "KES",
		SettlementMSISDN: settlementMSISDN,
		Simulate:         simulate,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Authenticate obtains a bearer token via the OAuth2 client-credentials flow.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/oauth2/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("airtel auth failed: status %d: %s", resp.StatusCode, string(raw))
	}

	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	return data.AccessToken, nil
}

// TransactionReference generates a unique Airtel transaction reference.
func (c *Client) TransactionReference() string {
	return fmt.Sprintf("AIRTEL%d%s", time.Now().Unix(), strings.ToUpper(uuid.New().String()[:8]))
}

// PaybillToCustomer disburses funds from the paybill to a customer wallet
// (B2C). This backs the credit leg of a settlement.
func (c *Client) PaybillToCustomer(ctx context.Context, customerMSISDN string, amount decimal.Decimal) (map[string]interface{}, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("paybill to customer amount must be positive, got %s", amount)
	}

	normalized, err := msisdn.Normalize(customerMSISDN)
	if err != nil {
		return nil, err
	}

	reference := c.TransactionReference()
	amountValue, _ := amount.Round(2).Float64()
	payload := map[string]interface{}{
		"payee": map[string]interface{}{
			"msisdn":      normalized,
			"wallet_type": "NORMAL",
		},
		"reference": reference,
		"pin":       c.PIN,
		"transaction": map[string]interface{}{
			"amount": amountValue,
			"id":     reference,
			"type":   "B2C",
		},
	}

	data, err := c.post(ctx, "/paybill/v1/paybill-to-customer", payload)
	if err != nil {
		if !c.Simulate {
			return nil, err
		}
		data = simulatedStatus(reference, "Simulated paybill to customer transfer accepted")
	}
	data["Request"] = payload
	data["timestamp"] = time.Now().Format(time.RFC3339)

	if !statusOK(data) {
		return data, fmt.Errorf("airtel paybill to customer transfer rejected")
	}
	return data, nil
}

// MerchantCollection requests a payment from a customer wallet into the
// paybill (the debit leg).
func (c *Client) MerchantCollection(ctx context.Context, customerMSISDN string, amount decimal.Decimal) (map[string]interface{}, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("merchant collection amount must be positive, got %s", amount)
	}

	normalized, err := msisdn.Normalize(customerMSISDN)
	if err != nil {
		return nil, err
	}

	reference := c.TransactionReference()
	amountValue, _ := amount.Round(2).Float64()
	payload := map[string]interface{}{
		"subscriber": map[string]interface{}{
			"country":  c.Country,
			"currency": c.Currency,
			"msisdn":   normalized,
		},
		"reference": reference,
		"transaction": map[string]interface{}{
			"amount":   amountValue,
			"country":  c.Country,
			"currency": c.Currency,
			"id":       reference,
		},
	}

	data, err := c.post(ctx, "/merchant/v1/payments/", payload)
	if err != nil {
		if !c.Simulate {
			return nil, err
		}
		data = simulatedStatus(reference, "Simulated merchant collection accepted")
	}
	data["Request"] = payload
	data["timestamp"] = time.Now().Format(time.RFC3339)

	if !statusOK(data) {
		return data, fmt.Errorf("airtel merchant collection rejected")
	}
	return data, nil
}

func simulatedStatus(reference, message string) map[string]interface{} {
	return map[string]interface{}{
		"status": map[string]interface{}{
			"code":    "200",
			"message": message,
			"success": true,
		},
		"data": map[string]interface{}{
			"transaction": map[string]interface{}{
				"id":     reference,
				"status": "SUCCESS",
			},
		},
		"simulation": true,
	}
}

func statusOK(data map[string]interface{}) bool {
	status, ok := data["status"].(map[string]interface{})
	if !ok {
		return false
	}
	code, _ := status["code"].(string)
	return code == "200"
}

// post sends an authenticated JSON request and decodes the JSON response.
func (c *Client) post(ctx context.Context, path string, payload map[string]interface{}) (map[string]interface{}, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Country", c.Country)
	req.Header.Set("X-Currency", c.Currency)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("airtel api error: status %d: %s", resp.StatusCode, string(raw))
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("airtel api returned invalid json: %w", err)
	}
	return data, nil
}

// InitiateDebit collects funds from the agent's settlement wallet. Implements
// the orchestrator's network adapter contract.
func (c *Client) InitiateDebit(ctx context.Context, account domain.Account, amount decimal.Decimal) (domain.AdapterResult, error) {
	data, err := c.MerchantCollection(ctx, c.SettlementMSISDN, amount)
	if err != nil {
		return domain.AdapterResult{ResponsePayload: data}, err
	}
	return domain.AdapterResult{Success: true, ResponsePayload: data}, nil
}

// InitiateCredit disburses to the agent's settlement wallet.
func (c *Client) InitiateCredit(ctx context.Context, account domain.Account, amount decimal.Decimal) (domain.AdapterResult, error) {
	data, err := c.PaybillToCustomer(ctx, c.SettlementMSISDN, amount)
	if err != nil {
		return domain.AdapterResult{ResponsePayload: data}, err
	}
	return domain.AdapterResult{Success: true, ResponsePayload: data}, nil
}
