package payment

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Package is a purchasable credit bundle.
type Package struct {
	Name        string  `json:"name"`
	Credits     int64   `json:"credits"`
	PriceUSD    float64 `json:"price_usd"`
	Description string  `json:"description"`
}

// Packages lists the purchasable bundles, cheapest first. Larger
// bundles carry a volume bonus.
var Packages = []Package{
	{Name: "starter", Credits: 1000, PriceUSD: 1.00, Description: "1,000 NexusAI Credits"},
	{Name: "standard", Credits: 10000, PriceUSD: 9.00, Description: "10,000 NexusAI Credits (10% Bonus)"},
	{Name: "premium", Credits: 100000, PriceUSD: 80.00, Description: "100,000 NexusAI Credits (20% Bonus)"},
}

// PackageByName returns the named package, or false if it is unknown.
func PackageByName(name string) (Package, bool) {
	for _, p := range Packages {
		if p.Name == name {
			return p, true
		}
	}
	return Package{}, false
}

// Status is the state of a payment request as reported by the provider.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusUnknown    Status = "unknown"
)

// Receipt describes the outcome of a payment request.
type Receipt struct {
	ReferenceID string  `json:"reference_id"`
	Status      Status  `json:"status"`
	Package     Package `json:"package"`
}

// Confirmation is the provider's answer to a status poll: the state of
// the payment and the amount the payer actually paid. Grants are sized
// from this amount, never from anything the caller claims.
type Confirmation struct {
	Status    Status
	AmountUSD float64
}

// MTNClient talks to the MTN Mobile Money collection API. Payment
// confirmation feeds the credit grant flow: the MTN reference id
// becomes the ledger's external reference, so a replayed confirmation
// can never double-grant.
type MTNClient struct {
	baseURL           string
	subscriptionKey   string
	targetEnvironment string
	httpClient        *http.Client
	logger            *slog.Logger
}

// NewMTNClient creates a client against the given MTN API base URL
// (sandbox or production proxy).
func NewMTNClient(baseURL, subscriptionKey, targetEnvironment string, logger *slog.Logger) *MTNClient {
	return &MTNClient{
		baseURL:           strings.TrimRight(baseURL, "/"),
		subscriptionKey:   subscriptionKey,
		targetEnvironment: targetEnvironment,
		httpClient:        &http.Client{Timeout: 15 * time.Second},
		logger:            logger,
	}
}

// RequestToPay initiates a collection for the given package and returns
// a pending receipt carrying the generated reference id.
func (c *MTNClient) RequestToPay(ctx context.Context, accountID, phoneNumber, packageName string) (*Receipt, error) {
	pkg, ok := PackageByName(packageName)
	if !ok {
		return nil, fmt.Errorf("unknown credit package %q", packageName)
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	referenceID := newReferenceID(accountID)
	payload := map[string]any{
		"amount":     strconv.FormatFloat(pkg.PriceUSD, 'f', 2, 64),
		"currency":   "USD",
		"externalId": referenceID,
		"payer": map[string]string{
			"partyIdType": "MSISDN",
			"partyId":     strings.TrimPrefix(phoneNumber, "+"),
		},
		"payerMessage": "NexusAI Credits Purchase - " + pkg.Description,
		"payeeNote":    fmt.Sprintf("Payment for %d NexusAI credits", pkg.Credits),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/collection/v1_0/requesttopay", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, token)
	req.Header.Set("X-Reference-Id", referenceID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("payment request rejected",
			"status", resp.StatusCode,
			"reference_id", referenceID,
			"body", string(msg),
		)
		return nil, fmt.Errorf("payment request rejected with status %d", resp.StatusCode)
	}

	c.logger.Info("payment requested",
		"reference_id", referenceID,
		"package", pkg.Name,
		"amount_usd", pkg.PriceUSD,
	)
	return &Receipt{ReferenceID: referenceID, Status: StatusPending, Package: pkg}, nil
}

// CheckStatus polls the provider for the current state of a payment
// and the amount it was made for.
func (c *MTNClient) CheckStatus(ctx context.Context, referenceID string) (*Confirmation, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/collection/v1_0/requesttopay/"+referenceID, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status check rejected with status %d", resp.StatusCode)
	}

	var payload struct {
		Status string `json:"status"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	conf := &Confirmation{Status: StatusUnknown}
	switch strings.ToUpper(payload.Status) {
	case "SUCCESSFUL":
		conf.Status = StatusSuccessful
	case "PENDING":
		conf.Status = StatusPending
	case "FAILED":
		conf.Status = StatusFailed
	}
	if payload.Amount != "" {
		amount, err := strconv.ParseFloat(payload.Amount, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse payment amount %q: %w", payload.Amount, err)
		}
		conf.AmountUSD = amount
	}
	return conf, nil
}

// AwaitConfirmation polls CheckStatus until the payment reaches a
// terminal state or the context expires.
func (c *MTNClient) AwaitConfirmation(ctx context.Context, referenceID string, interval time.Duration) (Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conf, err := c.CheckStatus(ctx, referenceID)
		if err != nil {
			c.logger.Warn("payment status poll failed", "reference_id", referenceID, "error", err)
		} else if conf.Status == StatusSuccessful || conf.Status == StatusFailed {
			return conf.Status, nil
		}

		select {
		case <-ctx.Done():
			return StatusUnknown, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *MTNClient) accessToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/collection/token/", nil)
	if err != nil {
		return "", err
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request rejected with status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	return payload.AccessToken, nil
}

func (c *MTNClient) setHeaders(req *http.Request, bearer string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Target-Environment", c.targetEnvironment)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
}

func newReferenceID(accountID string) string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return fmt.Sprintf("nexusai_%s_%s", accountID, hex.EncodeToString(buf))
}
