// collection-replay is an operator tool for collections that exhausted their
// retries: it raises max_retries and immediately re-attempts, or with
// -dry-run just prints the record's current state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/gateway"
	"github.com/chairtab/platform_backend/models"
	"github.com/chairtab/platform_backend/utils"
	"github.com/chairtab/platform_backend/workflow"
)

func main() {
	collectionID := flag.Int("collection-id", 0, "Required: platform collection id")
	maxRetries := flag.Int("max-retries", 0, "Optional: raise max_retries to this value before retrying")
	dryRun := flag.Bool("dry-run", false, "Print the record state without attempting collection")
	flag.Parse()

	if *collectionID <= 0 {
		fmt.Fprintln(os.Stderr, "-collection-id is required")
		os.Exit(1)
	}

	ctx := context.Background()
	ctx = utils.SetActorNameInContext(ctx, "CollectionReplay")
	ctx = utils.SetIsOperatorInContext(ctx, true)

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	logger := config.GetLogger()

	var collection models.PlatformCollection
	if err := db.WithContext(ctx).Where("id = ?", *collectionID).First(&collection).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to load collection %d: %v\n", *collectionID, err)
		os.Exit(1)
	}
	fmt.Printf("collection %d: barber=%d type=%s status=%s amount=%s retry_count=%d/%d\n",
		collection.ID, collection.BarberId, collection.CollectionType, collection.Status,
		collection.Amount.StringFixed(2), collection.RetryCount, collection.MaxRetries)
	fmt.Printf("last failure: %s\n", utils.DereferencePtr(collection.FailureReason, "none"))
	if *dryRun {
		return
	}

	var gw gateway.Gateway
	switch config.CollectionGatewayKind() {
	case "null":
		gw = gateway.NewNull()
	case "stripe":
		g, err := gateway.NewStripe()
		if err != nil {
			fmt.Fprintf(os.Stderr, "stripe gateway: %v\n", err)
			os.Exit(1)
		}
		gw = g
	default:
		g, err := gateway.NewDwolla()
		if err != nil {
			fmt.Fprintf(os.Stderr, "dwolla gateway: %v\n", err)
			os.Exit(1)
		}
		gw = g
	}

	service := workflow.NewCollectionService(db, logger, gw, workflow.GetRetryConfig())

	if *maxRetries > 0 {
		if _, err := service.OverrideRetryLimit(ctx, *collectionID, *maxRetries); err != nil {
			fmt.Fprintf(os.Stderr, "override retry limit: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("max_retries raised to %d\n", *maxRetries)
	}

	result, err := service.RetryFailedCollection(ctx, *collectionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retry failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("collection %d now %s (retry_count=%d)\n", result.ID, result.Status, result.RetryCount)
}
