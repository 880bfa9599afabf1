package onramp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MonnifyConfig holds the Monnify credentials (spec §6's onramp
// equivalents of the Lenco env vars).
type MonnifyConfig struct {
	BaseURL       string
	APIKey        string
	SecretKey     string
	ContractCode  string
	WebhookSecret string
}

// MonnifyProvider implements PaymentProvider over Monnify's webhook
// contract. Unlike LencoProvider it has no outbound-call surface this
// service exercises beyond signature verification and payload parsing —
// Monnify's own hosted checkout collects the payment.
type MonnifyProvider struct {
	cfg    MonnifyConfig
	client *http.Client
}

func NewMonnifyProvider(cfg MonnifyConfig) *MonnifyProvider {
	return &MonnifyProvider{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}
}

// VerifyWebhookSignature checks Monnify's HMAC-SHA512 transaction hash
// header against the raw request body, the same constant-time-compare
// discipline as the Lenco payout adapter.
func (m *MonnifyProvider) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	mac := hmac.New(sha512.New, []byte(m.cfg.WebhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

type monnifyWebhookPayload struct {
	EventType string `json:"eventType"`
	EventData struct {
		PaymentReference string `json:"paymentReference"`
		AmountPaid       string `json:"amountPaid"`
		PaymentStatus    string `json:"paymentStatus"`
	} `json:"eventData"`
}

func (m *MonnifyProvider) ParsePaymentWebhook(rawBody []byte) (PaymentEvent, error) {
	var payload monnifyWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return PaymentEvent{}, fmt.Errorf("malformed monnify webhook payload: %w", err)
	}

	var ngnPaid int64
	fmt.Sscanf(payload.EventData.AmountPaid, "%d", &ngnPaid)

	return PaymentEvent{
		Reference:  payload.EventData.PaymentReference,
		NGNPaid:    ngnPaid,
		Successful: payload.EventData.PaymentStatus == "PAID",
		FailReason: payload.EventData.PaymentStatus,
	}, nil
}

// InitiatePaymentRequest asks Monnify to create a hosted checkout session
// for the computed NGN amount, returning the URL the client should redirect
// to. Kept separate from ParsePaymentWebhook/VerifyWebhookSignature since
// it is the one outbound call this adapter makes.
func (m *MonnifyProvider) InitiatePaymentRequest(ctx context.Context, amountNGN int64, reference, redirectURL string) (checkoutURL string, err error) {
	payload := map[string]any{
		"amount":                amountNGN,
		"customerName":          "sswap user",
		"customerEmail":         "noreply@sswap.example",
		"paymentReference":      reference,
		"paymentDescription":    "SSWAP onramp deposit",
		"currencyCode":          "NGN",
		"contractCode":          m.cfg.ContractCode,
		"redirectUrl":           redirectURL,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/api/v1/merchant/transactions/init-transaction", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("monnify: init-transaction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("monnify: init-transaction returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		ResponseBody struct {
			CheckoutURL string `json:"checkoutUrl"`
		} `json:"responseBody"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("monnify: malformed init-transaction response: %w", err)
	}
	return out.ResponseBody.CheckoutURL, nil
}
