/**
 * @description
 * This package provides a client for the Safaricom M-Pesa (Daraja) API. It
 * encapsulates OAuth token acquisition, STK push initiation for collections
 * (the debit leg) and B2C payment requests for payouts (the credit leg),
 * along with the password/security-credential generation the API requires.
 *
 * When the sandbox is unreachable and simulation is enabled, calls degrade to
 * a simulated accepted payload flagged with "simulation": true, so the
 * settlement engine keeps functioning without live Daraja credentials.
 *
 * @dependencies
 * - bytes, context, encoding/base64, encoding/json, net/http, time: Standard Go libraries.
 * - github.com/google/uuid: Request and transaction reference generation.
 * - github.com/shopspring/decimal: Monetary amounts.
 * - internal/domain: The network adapter contract.
 * - pkg/msisdn: Phone number normalization.
 */
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
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

// eat is the East Africa Time zone Daraja timestamps are generated in.
var eat = time.FixedZone("EAT", 3*60*60)

// Client is a client for the M-Pesa Daraja API.
type Client struct {
	BaseURL          string
	ConsumerKey      string
	ConsumerSecret   string
	ShortCode        string
	PassKey          string
	CallbackURL      string
	SettlementMSISDN string
	Simulate         bool
	HTTPClient       *http.Client
}

// NewClient creates a new M-Pesa API client. settlementMSISDN is the wallet
// number STK pushes are sent to when collecting from an agent paybill.
func NewClient(baseURL, consumerKey, consumerSecret, shortCode, passKey, callbackURL, settlementMSISDN string, simulate bool) *Client {
	return &Client{
		BaseURL:          strings.TrimRight(baseURL, "/"),
		ConsumerKey:      consumerKey,
		ConsumerSecret:   consumerSecret,
		ShortCode:        shortCode,
		PassKey:          passKey,
		CallbackURL:      callbackURL,
		SettlementMSISDN: settlementMSISDN,
		Simulate:         simulate,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// authResponse is the expected response from the OAuth endpoint.
type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Authenticate obtains a bearer token using the consumer key/secret pair.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.ConsumerKey + ":" + c.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+creds)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("mpesa auth failed: status %d: %s", resp.StatusCode, string(body))
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", err
	}
	return auth.AccessToken, nil
}

// timestamp returns the Daraja-format timestamp in East Africa Time.
func timestamp() string {
	return time.Now().In(eat).Format("20060102150405")
}

// generatePassword builds the base64(shortcode+passkey+timestamp) password
// required by the STK push endpoint.
func (c *Client) generatePassword(ts string) string {
	raw := c.ShortCode + c.PassKey + ts
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// GenerateSecurityCredential encodes the pass key for B2C payment requests.
func (c *Client) GenerateSecurityCredential() string {
	return base64.StdEncoding.EncodeToString([]byte(c.PassKey))
}

// TransactionReference generates a unique M-Pesa transaction reference.
func (c *Client) TransactionReference() string {
	return fmt.Sprintf("MPESA%d%s", time.Now().Unix(), strings.ToUpper(uuid.New().String()[:8]))
}

func merchantRequestID() string {
	return fmt.Sprintf("MR%d%s", time.Now().Unix(), strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6]))
}

func checkoutRequestID() string {
	return "ws_CO_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// InitiateSTKPush sends (or simulates) an STK push collection request.
// Daraja requires whole-shilling amounts, so the decimal is rounded to an
// integer only inside the request payload.
func (c *Client) InitiateSTKPush(ctx context.Context, phoneNumber string, amount decimal.Decimal, accountReference, description string) (map[string]interface{}, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("stk push amount must be positive, got %s", amount)
	}

	normalized, err := msisdn.Normalize(phoneNumber)
	if err != nil {
		return nil, err
	}

	ts := timestamp()
	merchantID := merchantRequestID()
	checkoutID := checkoutRequestID()
	if len(description) > 255 {
		description = description[:255]
	}

	payload := map[string]interface{}{
		"BusinessShortCode": c.ShortCode,
		"Password":          c.generatePassword(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount.Round(0).IntPart(),
		"PartyA":            normalized,
		"PartyB":            c.ShortCode,
		"PhoneNumber":       normalized,
		"CallBackURL":       c.CallbackURL,
		"AccountReference":  accountReference,
		"TransactionDesc":   description,
		"ClientReference":   merchantID,
	}

	data, err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", payload)
	if err != nil {
		if !c.Simulate {
			return nil, err
		}
		data = map[string]interface{}{
			"MerchantRequestID":   merchantID,
			"CheckoutRequestID":   checkoutID,
			"ResponseCode":        "0",
			"ResponseDescription": "Simulated STK push accepted",
			"CustomerMessage":     "Simulated STK Push request sent to handset",
			"simulation":          true,
		}
	}
	if _, ok := data["MerchantRequestID"]; !ok {
		data["MerchantRequestID"] = merchantID
	}
	if _, ok := data["CheckoutRequestID"]; !ok {
		data["CheckoutRequestID"] = checkoutID
	}
	data["Request"] = payload
	data["timestamp"] = time.Now().In(eat).Format(time.RFC3339)

	if code, _ := data["ResponseCode"].(string); code != "0" {
		return data, fmt.Errorf("mpesa stk push rejected: response code %v", data["ResponseCode"])
	}
	return data, nil
}

// InitiateB2CPayment sends (or simulates) a business-to-customer payout.
func (c *Client) InitiateB2CPayment(ctx context.Context, phoneNumber string, amount decimal.Decimal, remarks string) (map[string]interface{}, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("b2c amount must be positive, got %s", amount)
	}

	normalized, err := msisdn.Normalize(phoneNumber)
	if err != nil {
		return nil, err
	}

	reference := c.TransactionReference()
	payload := map[string]interface{}{
		"OriginatorConversationID": reference,
		"InitiatorName":            c.ShortCode,
		"SecurityCredential":       c.GenerateSecurityCredential(),
		"CommandID":                "BusinessPayment",
		"Amount":                   amount.Round(0).IntPart(),
		"PartyA":                   c.ShortCode,
		"PartyB":                   normalized,
		"Remarks":                  remarks,
		"QueueTimeOutURL":          c.CallbackURL,
		"ResultURL":                c.CallbackURL,
	}

	data, err := c.post(ctx, "/mpesa/b2c/v1/paymentrequest", payload)
	if err != nil {
		if !c.Simulate {
			return nil, err
		}
		data = map[string]interface{}{
			"OriginatorConversationID": reference,
			"ConversationID":           "AG_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:20],
			"ResponseCode":             "0",
			"ResponseDescription":      "Simulated B2C payment accepted",
			"simulation":               true,
		}
	}
	data["Request"] = payload
	data["timestamp"] = time.Now().In(eat).Format(time.RFC3339)

	if code, _ := data["ResponseCode"].(string); code != "0" {
		return data, fmt.Errorf("mpesa b2c payment rejected: response code %v", data["ResponseCode"])
	}
	return data, nil
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
		return nil, fmt.Errorf("mpesa api error: status %d: %s", resp.StatusCode, string(raw))
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("mpesa api returned invalid json: %w", err)
	}
	return data, nil
}

// InitiateDebit collects funds from the agent's settlement wallet via STK
// push. Implements the orchestrator's network adapter contract.
func (c *Client) InitiateDebit(ctx context.Context, account domain.Account, amount decimal.Decimal) (domain.AdapterResult, error) {
	data, err := c.InitiateSTKPush(ctx, c.SettlementMSISDN, amount, account.ID, "Interoperability settlement debit")
	if err != nil {
		return domain.AdapterResult{ResponsePayload: data}, err
	}
	return domain.AdapterResult{Success: true, ResponsePayload: data}, nil
}

// InitiateCredit pays out to the agent's settlement wallet via B2C.
func (c *Client) InitiateCredit(ctx context.Context, account domain.Account, amount decimal.Decimal) (domain.AdapterResult, error) {
	data, err := c.InitiateB2CPayment(ctx, c.SettlementMSISDN, amount, "Interoperability settlement credit for "+account.ID)
	if err != nil {
		return domain.AdapterResult{ResponsePayload: data}, err
	}
	return domain.AdapterResult{Success: true, ResponsePayload: data}, nil
}
