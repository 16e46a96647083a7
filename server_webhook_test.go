package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/gateway"
	"github.com/chairtab/platform_backend/workflow"
	"github.com/gin-gonic/gin"
)

// A service with no DB exercises the paths that fail before any query runs.
func nilDBService() *workflow.CollectionService {
	return workflow.NewCollectionService(nil, config.GetLogger(), gateway.NewNull(), workflow.GetRetryConfig())
}

func TestWebhookResponseStatus_OnlyUnsupportedStatusIsDropped(t *testing.T) {
	service := nilDBService()

	// An unsupported status value can never succeed on redelivery: ack/drop.
	_, validationErr := service.ReconcileTransferStatus(context.Background(), "tx-1", "bogus")
	if validationErr == nil {
		t.Fatal("expected validation error for unsupported status")
	}
	if got := webhookResponseStatus(validationErr); got != http.StatusNoContent {
		t.Fatalf("unsupported status must be dropped with 204, got %d", got)
	}

	// Everything else answers 500 so the rail redelivers. A transfer id with
	// no collection yet may just be racing the debit recording.
	for _, err := range []error{
		errors.New("no collection for gateway transaction tx-1"),
		errors.New("dial tcp: connection refused"),
	} {
		if got := webhookResponseStatus(err); got != http.StatusInternalServerError {
			t.Fatalf("error %q must answer 500 for redelivery, got %d", err, got)
		}
	}
}

func TestCollectionWebhookHandler_DropsOnlyUndeliverablePayloads(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhooks/collections", collectionWebhookHandler(nilDBService()))

	// Malformed JSON is acked so the rail stops redelivering garbage.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/collections", strings.NewReader("{not json"))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("malformed payload: expected 204, got %d", rec.Code)
	}

	// A well-formed payload with a status the engine does not understand is
	// dropped too.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhooks/collections",
		strings.NewReader(`{"gateway_transaction_id":"tx-1","status":"mystery"}`))
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unsupported status: expected 204, got %d", rec.Code)
	}
}
