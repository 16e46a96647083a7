package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestStripe(t *testing.T, handler http.Handler) *Stripe {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("STRIPE_API_BASE_URL", srv.URL)
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_RATE_LIMIT_PER_MIN", "60000")
	t.Setenv("STRIPE_FEE_PERCENT", "")
	t.Setenv("STRIPE_FEE_FLAT", "")

	s, err := NewStripe()
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStripe_SucceededIntentCompletesWithFee(t *testing.T) {
	var gotForm map[string][]string
	var gotIdempotencyKey string
	s := newTestStripe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = r.PostForm
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":     "pi_123",
			"status": "succeeded",
		})
	}))

	result, err := s.Debit(context.Background(), DebitRequest{
		SourceInstrument: "pm_card_visa",
		Amount:           decimal.RequireFromString("100.00"),
		Currency:         "USD",
		IdempotencyKey:   "collection-10",
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.TransactionId != "pi_123" || result.Status != DebitCompleted {
		t.Fatalf("unexpected result: %+v", result)
	}
	// 2.9% + $0.30 on $100.00.
	if !result.ProcessingFee.Equal(decimal.RequireFromString("3.20")) {
		t.Fatalf("expected fee 3.20, got %s", result.ProcessingFee.String())
	}
	if !result.NetAmount.Equal(decimal.RequireFromString("96.80")) {
		t.Fatalf("expected net 96.80, got %s", result.NetAmount.String())
	}

	if gotForm["amount"][0] != "10000" {
		t.Fatalf("expected amount in cents 10000, got %s", gotForm["amount"][0])
	}
	if gotForm["payment_method"][0] != "pm_card_visa" || gotForm["confirm"][0] != "true" {
		t.Fatalf("unexpected form: %v", gotForm)
	}
	if gotIdempotencyKey != "collection-10" {
		t.Fatalf("idempotency key not forwarded, got %q", gotIdempotencyKey)
	}
}

func TestStripe_CardErrorIsDeclined(t *testing.T) {
	s := newTestStripe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"type":    "card_error",
				"code":    "card_declined",
				"message": "Your card has insufficient funds.",
			},
		})
	}))

	_, err := s.Debit(context.Background(), DebitRequest{
		SourceInstrument: "pm_card_declined",
		Amount:           decimal.RequireFromString("50"),
		Currency:         "USD",
		IdempotencyKey:   "collection-11",
	})
	if err == nil {
		t.Fatal("expected declined error")
	}
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.Kind != ErrKindDeclined {
		t.Fatalf("expected declined kind, got %v", err)
	}
	if !Retryable(err) {
		t.Fatal("declines retry on the collection schedule; funds may arrive later")
	}
}

func TestStripe_ProcessingIntentStaysOpen(t *testing.T) {
	s := newTestStripe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":     "pi_456",
			"status": "processing",
		})
	}))

	result, err := s.Debit(context.Background(), DebitRequest{
		SourceInstrument: "pm_card_visa",
		Amount:           decimal.RequireFromString("25"),
		Currency:         "USD",
		IdempotencyKey:   "collection-12",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != DebitProcessing {
		t.Fatalf("expected processing, got %s", result.Status)
	}
}

func TestStripe_MissingPaymentMethodFailsFast(t *testing.T) {
	s := newTestStripe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should reach the rail")
	}))

	_, err := s.Debit(context.Background(), DebitRequest{
		Amount:   decimal.RequireFromString("25"),
		Currency: "USD",
	})
	if err == nil || Retryable(err) {
		t.Fatalf("expected terminal validation error, got %v", err)
	}
}
