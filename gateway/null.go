package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Null is the explicit test-double gateway, selected only via
// COLLECTION_GATEWAY=null. Debits "settle" immediately with a deterministic
// transaction id. Outcomes can be scripted per idempotency key for tests.
type Null struct {
	mu       sync.Mutex
	seq      int
	fee      decimal.Decimal
	outcomes map[string]error
	statuses map[string]DebitStatus
	Calls    []DebitRequest
}

func NewNull() *Null {
	return &Null{
		fee:      decimal.Zero,
		outcomes: map[string]error{},
		statuses: map[string]DebitStatus{},
	}
}

// ScriptError makes the next Debit with the given idempotency key fail.
func (n *Null) ScriptError(idempotencyKey string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes[idempotencyKey] = err
}

// ScriptStatus overrides the result status (e.g. DebitProcessing to exercise
// the webhook path).
func (n *Null) ScriptStatus(idempotencyKey string, status DebitStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses[idempotencyKey] = status
}

func (n *Null) SetFee(fee decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fee = fee
}

func (n *Null) Debit(ctx context.Context, req DebitRequest) (*DebitResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.Calls = append(n.Calls, req)

	if err, ok := n.outcomes[req.IdempotencyKey]; ok {
		delete(n.outcomes, req.IdempotencyKey)
		return nil, err
	}

	status := DebitCompleted
	if s, ok := n.statuses[req.IdempotencyKey]; ok {
		status = s
	}

	n.seq++
	return &DebitResult{
		TransactionId: fmt.Sprintf("null-%s-%d", req.IdempotencyKey, n.seq),
		Status:        status,
		ProcessingFee: n.fee,
		NetAmount:     req.Amount.Sub(n.fee),
	}, nil
}
