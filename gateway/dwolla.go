package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Dwolla executes ACH debits via the Dwolla transfers API. ACH settles in
// days, so Debit returns DebitProcessing and the final status arrives through
// the webhook receiver.
type Dwolla struct {
	baseURL string
	key     string
	secret  string
	fee     decimal.Decimal
	http    *http.Client
	limiter <-chan time.Time

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewDwolla() (*Dwolla, error) {
	baseURL := strings.TrimSpace(os.Getenv("DWOLLA_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.dwolla.com"
	}
	key := strings.TrimSpace(os.Getenv("DWOLLA_KEY"))
	secret := strings.TrimSpace(os.Getenv("DWOLLA_SECRET"))
	if key == "" || secret == "" {
		return nil, errors.New("DWOLLA_KEY/DWOLLA_SECRET not set")
	}

	// Flat ACH fee per transfer, in dollars.
	fee := decimal.NewFromFloat(0.25)
	if v := strings.TrimSpace(os.Getenv("DWOLLA_TRANSFER_FEE")); v != "" {
		if parsed, err := decimal.NewFromString(v); err == nil && !parsed.IsNegative() {
			fee = parsed
		}
	}

	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("DWOLLA_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Dwolla{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		secret:  secret,
		fee:     fee,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: time.Tick(interval),
	}, nil
}

type dwollaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (d *Dwolla) accessToken(ctx context.Context) (string, error) {
	d.tokenMu.Lock()
	defer d.tokenMu.Unlock()

	if d.token != "" && time.Now().Before(d.tokenExpiry.Add(-time.Minute)) {
		return d.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(d.key, d.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", WrapError(ErrKindTransient, "dwolla token request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", WrapError(kindForHTTPStatus(resp.StatusCode),
			fmt.Sprintf("dwolla token error %d", resp.StatusCode),
			errors.New(strings.TrimSpace(string(body))))
	}

	var parsed dwollaTokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	d.token = parsed.AccessToken
	d.tokenExpiry = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	return d.token, nil
}

type dwollaTransferRequest struct {
	Links  map[string]dwollaLink `json:"_links"`
	Amount dwollaAmount          `json:"amount"`
}

type dwollaLink struct {
	Href string `json:"href"`
}

type dwollaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type dwollaErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (d *Dwolla) Debit(ctx context.Context, dr DebitRequest) (*DebitResult, error) {
	if dr.SourceInstrument == "" {
		return nil, NewError(ErrKindValidation, "no funding source configured")
	}
	if dr.DestinationInstrument == "" {
		return nil, NewError(ErrKindValidation, "no platform funding destination configured")
	}

	token, err := d.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	<-d.limiter

	payload, err := json.Marshal(dwollaTransferRequest{
		Links: map[string]dwollaLink{
			"source":      {Href: dr.SourceInstrument},
			"destination": {Href: dr.DestinationInstrument},
		},
		Amount: dwollaAmount{
			Value:    dr.Amount.StringFixed(2),
			Currency: dr.Currency,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/transfers", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/vnd.dwolla.v1.hal+json")
	req.Header.Set("Accept", "application/vnd.dwolla.v1.hal+json")
	req.Header.Set("Idempotency-Key", dr.IdempotencyKey)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, WrapError(ErrKindTransient, "dwolla transfer request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var derr dwollaErrorResponse
		_ = json.Unmarshal(body, &derr)
		msg := derr.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, WrapError(kindForHTTPStatus(resp.StatusCode),
			fmt.Sprintf("dwolla transfer error %d", resp.StatusCode), errors.New(msg))
	}

	// Dwolla returns 201 with the transfer URL in Location; the id is the
	// final path segment.
	location := resp.Header.Get("Location")
	transferId := location
	if idx := strings.LastIndex(location, "/"); idx >= 0 {
		transferId = location[idx+1:]
	}
	if transferId == "" {
		return nil, NewError(ErrKindTransient, "dwolla transfer created but no Location header returned")
	}

	return &DebitResult{
		TransactionId: transferId,
		Status:        DebitProcessing,
		ProcessingFee: d.fee,
		NetAmount:     dr.Amount.Sub(d.fee),
	}, nil
}
