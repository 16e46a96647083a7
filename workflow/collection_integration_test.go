package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/chairtab/platform_backend/calc"
	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/gateway"
	"github.com/chairtab/platform_backend/models"
	"github.com/chairtab/platform_backend/workflow"
	"github.com/shopspring/decimal"
)

// Full state machine coverage against real MySQL + Redis in docker, with the
// null gateway scripting rail outcomes.

func setupCollectionEnv(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "chairtab_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	return context.Background()
}

func seedBarber(t *testing.T, ctx context.Context, name string, cfg *models.NewCollectionConfig) (barberId, connectionId int) {
	t.Helper()
	db := config.GetDB()

	barber := models.Barber{Name: name, Email: name + "@test.local", Active: true}
	if err := db.WithContext(ctx).Create(&barber).Error; err != nil {
		t.Fatalf("create barber: %v", err)
	}
	conn := models.ProcessorConnection{BarberId: barber.ID, Provider: "square", Active: true}
	if err := db.WithContext(ctx).Create(&conn).Error; err != nil {
		t.Fatalf("create connection: %v", err)
	}

	cfg.BarberId = barber.ID
	if _, err := models.UpsertCollectionConfig(ctx, cfg); err != nil {
		t.Fatalf("upsert config: %v", err)
	}
	return barber.ID, conn.ID
}

func seedTransactions(t *testing.T, ctx context.Context, connectionId, count int, amount, rate string) []int {
	t.Helper()
	ids := make([]int, 0, count)
	for i := 0; i < count; i++ {
		txn, err := models.RecordExternalTransaction(ctx, &models.NewExternalTransaction{
			ConnectionId:   connectionId,
			Amount:         decimal.RequireFromString(amount),
			CommissionRate: decimal.RequireFromString(rate),
			ProcessedAt:    time.Now().UTC().Add(-time.Duration(count-i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("record transaction: %v", err)
		}
		ids = append(ids, txn.ID)
	}
	return ids
}

func achConfig(autoCollect bool, minimum string) *models.NewCollectionConfig {
	bank := "https://api-sandbox.dwolla.com/funding-sources/test"
	return &models.NewCollectionConfig{
		PaymentMode:             models.PaymentModeDecentralized,
		CollectionMethod:        models.CollectionMethodACH,
		CollectionFrequency:     models.CollectionFrequencyWeekly,
		MinimumCollectionAmount: decimal.RequireFromString(minimum),
		AutoCollection:          autoCollect,
		CollectionBankAccount:   &bank,
	}
}

func TestCommissionCollectionLifecycle(t *testing.T) {
	ctx := setupCollectionEnv(t)
	logger := config.GetLogger()
	gw := gateway.NewNull()
	retry := workflow.RetryConfig{MaxRetries: 3, BaseBackoff: time.Hour, MaxBackoff: 24 * time.Hour, StaleProcessingAfter: 30 * time.Minute}
	service := workflow.NewCollectionService(config.GetDB(), logger, gw, retry)

	barberId, connectionId := seedBarber(t, ctx, "lifecycle-barber", achConfig(true, "10"))
	txnIds := seedTransactions(t, ctx, connectionId, 3, "100.00", "0.10")

	// Three $100 charges at 10% owe $30.00, above the $10 minimum.
	outstanding, err := calc.CalculateOutstandingCommission(ctx, barberId, nil, nil)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !outstanding.TotalOwed.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("expected 30.00 owed, got %s", outstanding.TotalOwed.String())
	}
	if !outstanding.MeetsMinimumThreshold {
		t.Fatal("30.00 should meet the 10.00 minimum")
	}
	if outstanding.TransactionCount != 3 {
		t.Fatalf("expected 3 transactions, got %d", outstanding.TransactionCount)
	}

	created, err := service.CreateCollection(ctx, &workflow.NewCollection{
		BarberId:              barberId,
		CollectionType:        models.CollectionTypeCommission,
		Amount:                outstanding.TotalOwed,
		Description:           "march commission",
		RelatedTransactionIds: outstanding.TransactionIds,
	})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if created.Status != models.CollectionStatusPending {
		t.Fatalf("expected PENDING, got %s", created.Status)
	}

	gw.ScriptError(fmt.Sprintf("collection-%d", created.ID), gateway.NewError(gateway.ErrKindTransient, "simulated timeout"))
	before := time.Now().UTC()
	attempted, err := service.AttemptCollection(ctx, created.ID)
	if err == nil {
		t.Fatal("expected transient failure from scripted gateway")
	}
	if attempted == nil {
		t.Fatal("expected record state back alongside the error")
	}
	if attempted.Status != models.CollectionStatusPending {
		t.Fatalf("transient failure must requeue as PENDING, got %s", attempted.Status)
	}
	if attempted.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", attempted.RetryCount)
	}
	lowBound := before.Add(55 * time.Minute)
	highBound := before.Add(65 * time.Minute)
	if attempted.ScheduledDate.Before(lowBound) || attempted.ScheduledDate.After(highBound) {
		t.Fatalf("expected next attempt about an hour out, got %s", attempted.ScheduledDate)
	}

	// Manual retry succeeds and atomically claims the transactions.
	collected, err := service.RetryFailedCollection(ctx, created.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if collected.Status != models.CollectionStatusCollected {
		t.Fatalf("expected COLLECTED, got %s", collected.Status)
	}
	if collected.PlatformTransactionId == nil || *collected.PlatformTransactionId == "" {
		t.Fatal("expected gateway transaction id on the collected record")
	}

	db := config.GetDB()
	var uncollected int64
	if err := db.WithContext(ctx).Model(&models.ExternalTransaction{}).
		Where("id IN ? AND commission_collected = ?", txnIds, false).
		Count(&uncollected).Error; err != nil {
		t.Fatal(err)
	}
	if uncollected != 0 {
		t.Fatalf("%d transactions still uncollected after COLLECTED flip", uncollected)
	}

	// Collected transactions never show up as outstanding again.
	after, err := calc.CalculateOutstandingCommission(ctx, barberId, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if after.TransactionCount != 0 || !after.TotalOwed.IsZero() {
		t.Fatalf("expected zero outstanding after collection, got %d / %s", after.TransactionCount, after.TotalOwed.String())
	}

	// And no new collection can reference them.
	_, err = service.CreateCollection(ctx, &workflow.NewCollection{
		BarberId:              barberId,
		CollectionType:        models.CollectionTypeCommission,
		Amount:                decimal.RequireFromString("30.00"),
		RelatedTransactionIds: txnIds,
	})
	if workflow.ErrorKindOf(err) != workflow.ErrKindConflict {
		t.Fatalf("expected conflict reusing collected transactions, got %v", err)
	}

	// An outbox event committed with the success.
	var events int64
	if err := db.WithContext(ctx).Model(&models.CollectionEventRecord{}).
		Where("collection_id = ? AND event_type = ?", created.ID, models.CollectionEventCollected).
		Count(&events).Error; err != nil {
		t.Fatal(err)
	}
	if events != 1 {
		t.Fatalf("expected exactly 1 collected event, got %d", events)
	}
}

func TestGenerateSkipsBelowThresholdBarbers(t *testing.T) {
	ctx := setupCollectionEnv(t)
	gw := gateway.NewNull()
	service := workflow.NewCollectionService(config.GetDB(), config.GetLogger(), gw, workflow.GetRetryConfig())

	// Same $30 owed, but the minimum is $50.
	barberId, connectionId := seedBarber(t, ctx, "threshold-barber", achConfig(false, "50"))
	seedTransactions(t, ctx, connectionId, 3, "100.00", "0.10")

	results, err := service.GenerateCommissionCollections(ctx, &barberId)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Skipped {
		t.Fatal("below-threshold barber must be skipped")
	}
	if results[0].CollectionId != nil {
		t.Fatal("no collection may be created below threshold")
	}

	var count int64
	if err := config.GetDB().WithContext(ctx).Model(&models.PlatformCollection{}).
		Where("barber_id = ?", barberId).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected no collections, found %d", count)
	}
}

func TestProcessScheduledIsolatesFailures(t *testing.T) {
	ctx := setupCollectionEnv(t)
	gw := gateway.NewNull()
	retry := workflow.RetryConfig{MaxRetries: 3, BaseBackoff: time.Hour, MaxBackoff: 24 * time.Hour, StaleProcessingAfter: 30 * time.Minute}
	service := workflow.NewCollectionService(config.GetDB(), config.GetLogger(), gw, retry)

	// Five barbers, each with one due collection; #3's debit fails.
	collectionIds := make([]int, 0, 5)
	for i := 1; i <= 5; i++ {
		barberId, connectionId := seedBarber(t, ctx, fmt.Sprintf("batch-barber-%d", i), achConfig(false, "0"))
		seedTransactions(t, ctx, connectionId, 1, "50.00", "0.20")
		outstanding, err := calc.CalculateOutstandingCommission(ctx, barberId, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		past := time.Now().UTC().Add(-time.Minute)
		created, err := service.CreateCollection(ctx, &workflow.NewCollection{
			BarberId:              barberId,
			CollectionType:        models.CollectionTypeCommission,
			Amount:                outstanding.TotalOwed,
			ScheduledDate:         &past,
			RelatedTransactionIds: outstanding.TransactionIds,
		})
		if err != nil {
			t.Fatal(err)
		}
		collectionIds = append(collectionIds, created.ID)
	}
	gw.ScriptError(fmt.Sprintf("collection-%d", collectionIds[2]),
		gateway.NewError(gateway.ErrKindTransient, "rail outage"))

	results, err := service.ProcessScheduledCollections(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}

	byCollection := map[int]bool{}
	for _, r := range results {
		byCollection[r.CollectionId] = r.Success
	}
	for i, id := range collectionIds {
		success, ok := byCollection[id]
		if !ok {
			t.Fatalf("collection %d missing from results", id)
		}
		if i == 2 && success {
			t.Fatal("scripted failure must be reported unsuccessful")
		}
		if i != 2 && !success {
			t.Fatalf("collection %d should have succeeded despite #3 failing", id)
		}
	}
}

func TestReconcileTransferStatusIsIdempotent(t *testing.T) {
	ctx := setupCollectionEnv(t)
	gw := gateway.NewNull()
	retry := workflow.RetryConfig{MaxRetries: 3, BaseBackoff: time.Hour, MaxBackoff: 24 * time.Hour, StaleProcessingAfter: 30 * time.Minute}
	service := workflow.NewCollectionService(config.GetDB(), config.GetLogger(), gw, retry)

	barberId, connectionId := seedBarber(t, ctx, "webhook-barber", achConfig(false, "0"))
	txnIds := seedTransactions(t, ctx, connectionId, 2, "80.00", "0.25")

	outstanding, err := calc.CalculateOutstandingCommission(ctx, barberId, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	created, err := service.CreateCollection(ctx, &workflow.NewCollection{
		BarberId:              barberId,
		CollectionType:        models.CollectionTypeCommission,
		Amount:                outstanding.TotalOwed,
		RelatedTransactionIds: outstanding.TransactionIds,
	})
	if err != nil {
		t.Fatal(err)
	}

	// ACH-style asynchronous settlement: debit accepted, webhook closes it.
	gw.ScriptStatus(fmt.Sprintf("collection-%d", created.ID), gateway.DebitProcessing)
	inFlight, err := service.AttemptCollection(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if inFlight.Status != models.CollectionStatusProcessing {
		t.Fatalf("expected PROCESSING while settling, got %s", inFlight.Status)
	}
	if inFlight.PlatformTransactionId == nil {
		t.Fatal("expected transfer id recorded before webhook")
	}
	transferId := *inFlight.PlatformTransactionId

	first, err := service.ReconcileTransferStatus(ctx, transferId, "completed")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != models.CollectionStatusCollected {
		t.Fatalf("expected COLLECTED after webhook, got %s", first.Status)
	}

	// Duplicate delivery is a no-op with the same end state.
	second, err := service.ReconcileTransferStatus(ctx, transferId, "completed")
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != models.CollectionStatusCollected {
		t.Fatalf("duplicate webhook changed state to %s", second.Status)
	}
	if !second.CollectedAt.Equal(*first.CollectedAt) {
		t.Fatal("duplicate webhook must not re-stamp collected_at")
	}

	db := config.GetDB()
	var collectedCount int64
	if err := db.WithContext(ctx).Model(&models.ExternalTransaction{}).
		Where("id IN ? AND commission_collected = ?", txnIds, true).
		Count(&collectedCount).Error; err != nil {
		t.Fatal(err)
	}
	if int(collectedCount) != len(txnIds) {
		t.Fatalf("expected all %d transactions collected exactly once, got %d", len(txnIds), collectedCount)
	}

	var events int64
	if err := db.WithContext(ctx).Model(&models.CollectionEventRecord{}).
		Where("collection_id = ? AND event_type = ?", created.ID, models.CollectionEventCollected).
		Count(&events).Error; err != nil {
		t.Fatal(err)
	}
	if events != 1 {
		t.Fatalf("duplicate webhook emitted %d collected events, want 1", events)
	}
}

func TestReconcileAgainstSettledRecordIsRepeatableNoOp(t *testing.T) {
	ctx := setupCollectionEnv(t)
	gw := gateway.NewNull()
	service := workflow.NewCollectionService(config.GetDB(), config.GetLogger(), gw, workflow.GetRetryConfig())

	barberId, connectionId := seedBarber(t, ctx, "settled-barber", achConfig(false, "0"))
	seedTransactions(t, ctx, connectionId, 1, "70.00", "0.10")
	outstanding, err := calc.CalculateOutstandingCommission(ctx, barberId, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	created, err := service.CreateCollection(ctx, &workflow.NewCollection{
		BarberId:              barberId,
		CollectionType:        models.CollectionTypeCommission,
		Amount:                outstanding.TotalOwed,
		RelatedTransactionIds: outstanding.TransactionIds,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Synchronous settlement: the record is COLLECTED before any webhook.
	collected, err := service.AttemptCollection(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if collected.Status != models.CollectionStatusCollected {
		t.Fatalf("expected COLLECTED, got %s", collected.Status)
	}
	transferId := *collected.PlatformTransactionId

	// A late webhook for the same transfer is a no-op, and so is its
	// immediate duplicate. Neither may error.
	first, err := service.ReconcileTransferStatus(ctx, transferId, "completed")
	if err != nil {
		t.Fatalf("first late webhook: %v", err)
	}
	if first.Status != models.CollectionStatusCollected {
		t.Fatalf("late webhook changed state to %s", first.Status)
	}
	second, err := service.ReconcileTransferStatus(ctx, transferId, "completed")
	if err != nil {
		t.Fatalf("duplicate late webhook: %v", err)
	}
	if second.Status != models.CollectionStatusCollected {
		t.Fatalf("duplicate late webhook changed state to %s", second.Status)
	}
}

func TestRetryExhaustionIsTerminal(t *testing.T) {
	ctx := setupCollectionEnv(t)
	gw := gateway.NewNull()
	retry := workflow.RetryConfig{MaxRetries: 2, BaseBackoff: time.Minute, MaxBackoff: time.Hour, StaleProcessingAfter: 30 * time.Minute}
	service := workflow.NewCollectionService(config.GetDB(), config.GetLogger(), gw, retry)

	barberId, connectionId := seedBarber(t, ctx, "exhaust-barber", achConfig(false, "0"))
	seedTransactions(t, ctx, connectionId, 1, "40.00", "0.10")
	outstanding, err := calc.CalculateOutstandingCommission(ctx, barberId, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	created, err := service.CreateCollection(ctx, &workflow.NewCollection{
		BarberId:              barberId,
		CollectionType:        models.CollectionTypeCommission,
		Amount:                outstanding.TotalOwed,
		RelatedTransactionIds: outstanding.TransactionIds,
	})
	if err != nil {
		t.Fatal(err)
	}

	key := fmt.Sprintf("collection-%d", created.ID)
	gw.ScriptError(key, gateway.NewError(gateway.ErrKindTransient, "outage 1"))
	if _, err := service.AttemptCollection(ctx, created.ID); err == nil {
		t.Fatal("expected first failure")
	}
	gw.ScriptError(key, gateway.NewError(gateway.ErrKindTransient, "outage 2"))
	last, err := service.AttemptCollection(ctx, created.ID)
	if err == nil {
		t.Fatal("expected second failure")
	}
	if last.Status != models.CollectionStatusFailed {
		t.Fatalf("expected terminal FAILED after exhausting retries, got %s", last.Status)
	}
	if last.RetryCount != 2 {
		t.Fatalf("expected retry_count=2, got %d", last.RetryCount)
	}

	// No further automatic or manual attempt without an operator override.
	if _, err := service.RetryFailedCollection(ctx, created.ID); workflow.ErrorKindOf(err) != workflow.ErrKindRetryLimit {
		t.Fatalf("expected RetryLimit, got %v", err)
	}

	if _, err := service.OverrideRetryLimit(ctx, created.ID, 5); err != nil {
		t.Fatalf("override: %v", err)
	}
	recovered, err := service.RetryFailedCollection(ctx, created.ID)
	if err != nil {
		t.Fatalf("retry after override: %v", err)
	}
	if recovered.Status != models.CollectionStatusCollected {
		t.Fatalf("expected COLLECTED after override retry, got %s", recovered.Status)
	}
}

func TestValidationFailureIsTerminalNotRetried(t *testing.T) {
	ctx := setupCollectionEnv(t)
	gw := gateway.NewNull()
	service := workflow.NewCollectionService(config.GetDB(), config.GetLogger(), gw, workflow.GetRetryConfig())

	// ACH configured but no bank account on file.
	cfg := achConfig(false, "0")
	cfg.CollectionBankAccount = nil
	barberId, connectionId := seedBarber(t, ctx, "no-bank-barber", cfg)
	seedTransactions(t, ctx, connectionId, 1, "60.00", "0.10")
	outstanding, err := calc.CalculateOutstandingCommission(ctx, barberId, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	created, err := service.CreateCollection(ctx, &workflow.NewCollection{
		BarberId:              barberId,
		CollectionType:        models.CollectionTypeCommission,
		Amount:                outstanding.TotalOwed,
		RelatedTransactionIds: outstanding.TransactionIds,
	})
	if err != nil {
		t.Fatal(err)
	}

	failed, err := service.AttemptCollection(ctx, created.ID)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if failed.Status != models.CollectionStatusFailed {
		t.Fatalf("missing instrument must go terminal FAILED, got %s", failed.Status)
	}
	if failed.FailureReason == nil || !strings.Contains(*failed.FailureReason, "bank account") {
		t.Fatalf("expected descriptive failure reason, got %v", failed.FailureReason)
	}
	if len(gw.Calls) != 0 {
		t.Fatal("no debit may reach the rail without an instrument")
	}
}

func TestBoothRentGenerationIsIdempotentPerPeriod(t *testing.T) {
	ctx := setupCollectionEnv(t)
	gw := gateway.NewNull()
	service := workflow.NewCollectionService(config.GetDB(), config.GetLogger(), gw, workflow.GetRetryConfig())

	cfg := achConfig(false, "0")
	rent := decimal.RequireFromString("250")
	cfg.BoothRentAmount = &rent
	barberId, _ := seedBarber(t, ctx, "rent-barber", cfg)

	first, err := service.GenerateBoothRentCollections(ctx, &barberId)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || first[0].Skipped {
		t.Fatalf("expected one created collection, got %+v", first)
	}
	if !first[0].Amount.Equal(decimal.RequireFromString("250.00")) {
		t.Fatalf("one week at 250/week should owe 250.00, got %s", first[0].Amount.String())
	}

	// The same period is not billed twice.
	second, err := service.GenerateBoothRentCollections(ctx, &barberId)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 || !second[0].Skipped {
		t.Fatalf("expected skip for already-covered period, got %+v", second)
	}
}

func TestReconcileFailedTransferRequeues(t *testing.T) {
	ctx := setupCollectionEnv(t)
	gw := gateway.NewNull()
	retry := workflow.RetryConfig{MaxRetries: 3, BaseBackoff: time.Hour, MaxBackoff: 24 * time.Hour, StaleProcessingAfter: 30 * time.Minute}
	service := workflow.NewCollectionService(config.GetDB(), config.GetLogger(), gw, retry)

	barberId, connectionId := seedBarber(t, ctx, "failed-transfer-barber", achConfig(false, "0"))
	txnIds := seedTransactions(t, ctx, connectionId, 1, "90.00", "0.10")
	outstanding, err := calc.CalculateOutstandingCommission(ctx, barberId, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	created, err := service.CreateCollection(ctx, &workflow.NewCollection{
		BarberId:              barberId,
		CollectionType:        models.CollectionTypeCommission,
		Amount:                outstanding.TotalOwed,
		RelatedTransactionIds: outstanding.TransactionIds,
	})
	if err != nil {
		t.Fatal(err)
	}

	gw.ScriptStatus(fmt.Sprintf("collection-%d", created.ID), gateway.DebitProcessing)
	inFlight, err := service.AttemptCollection(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	transferId := *inFlight.PlatformTransactionId

	requeued, err := service.ReconcileTransferStatus(ctx, transferId, "failed")
	if err != nil {
		t.Fatal(err)
	}
	if requeued.Status != models.CollectionStatusPending {
		t.Fatalf("failed transfer with retry budget should requeue, got %s", requeued.Status)
	}
	if requeued.FailureReason == nil {
		t.Fatal("expected failure reason from the rail")
	}

	// The money never moved, so the ledger still shows the commission owed.
	var uncollected int64
	if err := config.GetDB().WithContext(ctx).Model(&models.ExternalTransaction{}).
		Where("id IN ? AND commission_collected = ?", txnIds, false).
		Count(&uncollected).Error; err != nil {
		t.Fatal(err)
	}
	if int(uncollected) != len(txnIds) {
		t.Fatalf("failed transfer must not mark transactions collected")
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("chairtab-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("chairtab-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=chairtab_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", errors.New("unexpected docker port output: " + out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
