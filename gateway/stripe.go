package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Stripe executes card debits via the PaymentIntents API. Card charges settle
// synchronously, so Debit returns DebitCompleted on success.
type Stripe struct {
	baseURL    string
	secretKey  string
	customerId string
	feePercent decimal.Decimal
	feeFlat    decimal.Decimal
	http       *http.Client
	limiter    <-chan time.Time
}

func NewStripe() (*Stripe, error) {
	baseURL := strings.TrimSpace(os.Getenv("STRIPE_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	secretKey := strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY"))
	if secretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY not set")
	}

	// Standard card pricing unless overridden.
	feePercent := decimal.NewFromFloat(0.029)
	feeFlat := decimal.NewFromFloat(0.30)
	if v := strings.TrimSpace(os.Getenv("STRIPE_FEE_PERCENT")); v != "" {
		if parsed, err := decimal.NewFromString(v); err == nil && !parsed.IsNegative() {
			feePercent = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("STRIPE_FEE_FLAT")); v != "" {
		if parsed, err := decimal.NewFromString(v); err == nil && !parsed.IsNegative() {
			feeFlat = parsed
		}
	}

	rateLimitPerMin := int64(100)
	if v := strings.TrimSpace(os.Getenv("STRIPE_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Stripe{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		customerId: strings.TrimSpace(os.Getenv("STRIPE_PLATFORM_CUSTOMER_ID")),
		feePercent: feePercent,
		feeFlat:    feeFlat,
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    time.Tick(interval),
	}, nil
}

type stripePaymentIntent struct {
	Id     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Stripe) Debit(ctx context.Context, dr DebitRequest) (*DebitResult, error) {
	if dr.SourceInstrument == "" {
		return nil, NewError(ErrKindValidation, "no payment method configured")
	}

	<-s.limiter

	// Stripe amounts are integer minor units.
	amountCents := dr.Amount.Mul(decimal.NewFromInt(100)).IntPart()
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", strings.ToLower(dr.Currency))
	form.Set("payment_method", dr.SourceInstrument)
	form.Set("confirm", "true")
	form.Set("off_session", "true")
	if s.customerId != "" {
		form.Set("customer", s.customerId)
	}
	if dr.Description != "" {
		form.Set("description", dr.Description)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", dr.IdempotencyKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, WrapError(ErrKindTransient, "stripe payment intent request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var intent stripePaymentIntent
	_ = json.Unmarshal(body, &intent)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		kind := kindForHTTPStatus(resp.StatusCode)
		if intent.Error != nil {
			msg = intent.Error.Message
			if intent.Error.Type == "card_error" {
				kind = ErrKindDeclined
			}
		}
		return nil, WrapError(kind, fmt.Sprintf("stripe error %d", resp.StatusCode), errors.New(msg))
	}

	switch intent.Status {
	case "succeeded":
		fee := dr.Amount.Mul(s.feePercent).Add(s.feeFlat).Round(2)
		return &DebitResult{
			TransactionId: intent.Id,
			Status:        DebitCompleted,
			ProcessingFee: fee,
			NetAmount:     dr.Amount.Sub(fee),
		}, nil
	case "processing":
		fee := dr.Amount.Mul(s.feePercent).Add(s.feeFlat).Round(2)
		return &DebitResult{
			TransactionId: intent.Id,
			Status:        DebitProcessing,
			ProcessingFee: fee,
			NetAmount:     dr.Amount.Sub(fee),
		}, nil
	default:
		return nil, NewError(ErrKindDeclined,
			fmt.Sprintf("stripe payment intent not completed (status=%s)", intent.Status))
	}
}
