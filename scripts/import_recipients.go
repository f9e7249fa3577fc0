//go:build ignore

// One-off: bulk-import campaign recipients from a CSV export.
//
// The CSV needs a header row and at least an "email" column; "first_name"
// and "verified" columns are picked up when present. Imported addresses are
// lower-cased, get a random record key, and start subscribed.
//
// Usage:
//
//	CSV_FILE_PATH=subscribers.csv go run scripts/import_recipients.go
//
// Optional env: CONFIG_PATH (default stitchpress.yaml), BATCH_SIZE (default
// 25, the BatchWriteItem ceiling), DEFAULT_VERIFIED (default true).
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/makerloom/stitchpress/internal/catalog"
	"github.com/makerloom/stitchpress/internal/config"
	"github.com/makerloom/stitchpress/internal/token"
)

var (
	csvFilePath     = getEnvOrDefault("CSV_FILE_PATH", "")
	configPath      = getEnvOrDefault("CONFIG_PATH", "stitchpress.yaml")
	batchSize       = getEnvIntOrDefault("BATCH_SIZE", 25)
	defaultVerified = getEnvOrDefault("DEFAULT_VERIFIED", "true") == "true"
)

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil && i > 0 {
			return i
		}
	}
	return defaultVal
}

func main() {
	if csvFilePath == "" {
		log.Fatal("CSV_FILE_PATH is required")
	}
	if batchSize > 25 {
		log.Fatalf("BATCH_SIZE %d exceeds the BatchWriteItem limit of 25", batchSize)
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.AWSRegion))
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}
	db := dynamodb.NewFromConfig(awsCfg)

	f, err := os.Open(csvFilePath)
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		log.Fatalf("read header: %v", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	emailCol, ok := cols["email"]
	if !ok {
		log.Fatal("csv has no email column")
	}

	var (
		batch     []types.WriteRequest
		imported  int
		skipped   int
		seen      = map[string]bool{}
		flushErrs int
	)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		_, err := db.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				cfg.Storage.RecipientsTable: batch,
			},
		})
		if err != nil {
			log.Printf("batch write failed: %v", err)
			flushErrs++
		} else {
			imported += len(batch)
		}
		batch = batch[:0]
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("read csv: %v", err)
		}

		email := strings.ToLower(strings.TrimSpace(row[emailCol]))
		if email == "" || !strings.Contains(email, "@") || seen[email] {
			skipped++
			continue
		}
		seen[email] = true

		rec := catalog.Recipient{
			Email:        email,
			Verified:     defaultVerified,
			Unsubscribed: false,
		}
		if i, ok := cols["first_name"]; ok && i < len(row) {
			rec.FirstName = strings.TrimSpace(row[i])
		}
		if i, ok := cols["verified"]; ok && i < len(row) {
			rec.Verified = strings.EqualFold(strings.TrimSpace(row[i]), "true")
		}
		if rec.RecordKey, err = token.Random(16); err != nil {
			log.Fatalf("record key: %v", err)
		}
		if rec.CorrelationID, err = token.Random(16); err != nil {
			log.Fatalf("correlation id: %v", err)
		}

		av, err := attributevalue.MarshalMap(rec)
		if err != nil {
			log.Fatalf("marshal %s: %v", email, err)
		}
		batch = append(batch, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		if len(batch) == batchSize {
			flush()
		}
	}
	flush()

	fmt.Printf("imported %d recipient(s) into %s (%d skipped, %d failed batches)\n",
		imported, cfg.Storage.RecipientsTable, skipped, flushErrs)
}
