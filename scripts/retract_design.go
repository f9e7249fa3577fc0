//go:build ignore

// One-off: take a published design's files off the public bucket.
//
// Object keys are deterministic, so the script rebuilds them from the same
// inputs the publish run used instead of reading them back from anywhere.
// Only bucket objects are removed; the catalog record stays (shop pages
// render a broken image rather than a missing row, which is the state we
// want while a takedown is being sorted out).
//
// Usage:
//
//	ALBUM_ID=0007 DESIGN_ID=118 TITLE="Fox in the Ferns" \
//	PHOTO_FILE=fox.jpg go run scripts/retract_design.go
//
// Optional env: CONFIG_PATH (default stitchpress.yaml), CHART_EXT (default
// .txt), KIT_VARIANTS (default "1", comma-separated), INCLUDE_LEGACY
// (default true, the un-versioned kit copy), INCLUDE_THUMB (default true).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/makerloom/stitchpress/internal/artifact"
	"github.com/makerloom/stitchpress/internal/config"
)

var (
	albumID       = getEnvOrDefault("ALBUM_ID", "")
	designIDRaw   = getEnvOrDefault("DESIGN_ID", "")
	title         = getEnvOrDefault("TITLE", "")
	photoFile     = getEnvOrDefault("PHOTO_FILE", "")
	configPath    = getEnvOrDefault("CONFIG_PATH", "stitchpress.yaml")
	chartExt      = getEnvOrDefault("CHART_EXT", ".txt")
	kitVariants   = getEnvOrDefault("KIT_VARIANTS", "1")
	includeLegacy = getEnvOrDefault("INCLUDE_LEGACY", "true") == "true"
	includeThumb  = getEnvOrDefault("INCLUDE_THUMB", "true") == "true"
)

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func main() {
	if albumID == "" || designIDRaw == "" || title == "" {
		log.Fatal("ALBUM_ID, DESIGN_ID and TITLE are required")
	}
	designID, err := strconv.Atoi(designIDRaw)
	if err != nil {
		log.Fatalf("DESIGN_ID %q is not a number", designIDRaw)
	}
	if n, err := strconv.Atoi(albumID); err == nil {
		albumID = fmt.Sprintf("%04d", n)
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Storage.S3Bucket == "" {
		log.Fatal("storage.s3_bucket is not configured")
	}

	ctx := context.Background()
	pub, err := artifact.NewPublisher(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("s3 publisher: %v", err)
	}

	arts := artifact.Artifacts{
		ChartKey: artifact.ChartKey(designID, title, chartExt),
		KitKeys:  map[string]string{},
	}
	for _, v := range strings.Split(kitVariants, ",") {
		if v = strings.TrimSpace(v); v != "" {
			arts.KitKeys[v] = artifact.KitKey(albumID, designID, v)
		}
	}
	if includeLegacy {
		arts.LegacyKitKey = artifact.LegacyKitKey(albumID, designID)
	}
	if photoFile != "" {
		arts.PhotoKey = artifact.PhotoKey(albumID, designID, photoFile)
		if includeThumb {
			arts.ThumbKey = artifact.ThumbKey(albumID, designID, photoFile)
		}
	}

	if err := pub.Remove(ctx, arts); err != nil {
		log.Fatalf("takedown incomplete: %v", err)
	}
	fmt.Printf("removed design %d (album %s) from %s\n", designID, albumID, cfg.Storage.S3Bucket)
}
