package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/makerloom/stitchpress/internal/campaign"
	"github.com/makerloom/stitchpress/internal/catalog"
	"github.com/makerloom/stitchpress/internal/config"
	"github.com/makerloom/stitchpress/internal/pkg/logger"
)

// Standalone campaign runner for designs that are already published, for
// re-sends or for announcements published before the pipeline existed.
func main() {
	configPath := flag.String("config", "stitchpress.yaml", "path to the configuration file")
	designID := flag.Int("design-id", 0, "published design id the announcement is about")
	title := flag.String("title", "", "design title used in the subject and body")
	link := flag.String("link", "", "design link (defaults to the shop page for the design)")
	dryRun := flag.Bool("dry-run", false, "report the recipient count without sending anything")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		die("load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}
	if err := cfg.ValidateCampaign(); err != nil {
		die("%v", err)
	}
	if *designID <= 0 || *title == "" {
		die("-design-id and -title are required")
	}

	target := *link
	if target == "" {
		if cfg.Pinboard.ShopBaseURL == "" {
			die("-link is required when pinboard.shop_base_url is not configured")
		}
		target = fmt.Sprintf("%s/designs/%d", strings.TrimRight(cfg.Pinboard.ShopBaseURL, "/"), *designID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := catalog.NewStore(ctx, cfg.Storage)
	if err != nil {
		die("catalog: %v", err)
	}
	mailer, err := campaign.NewMailer(ctx, cfg.Campaign)
	if err != nil {
		die("mailer: %v", err)
	}
	runner := campaign.NewRunner(store, mailer, cfg.Campaign, func(msg string) {
		fmt.Println(msg)
	})

	if *dryRun {
		recipients, err := runner.FetchRecipients(ctx, true, true)
		if err != nil {
			die("fetch recipients: %v", err)
		}
		eligible, err := store.CountEligible(ctx, catalog.ScanOptions{OnlyVerified: true, OnlySubscribed: true})
		if err != nil {
			die("count eligible: %v", err)
		}
		fmt.Printf("Dry run: would send %q to %d recipient(s) (%d eligible)\n", *title, len(recipients), eligible)
		fmt.Printf("Link: %s\n", target)
		return
	}

	content, err := campaign.LoadContent(cfg.Campaign, *title, target, strconv.Itoa(*designID))
	if err != nil {
		die("%v", err)
	}

	summary, err := runner.Run(ctx, content)
	if err != nil {
		die("campaign: %v", err)
	}
	fmt.Printf("Campaign finished: %d/%d sent in %s\n",
		summary.Sent, summary.Target, summary.Elapsed.Round(100*time.Millisecond))
}

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "campaign: "+format+"\n", args...)
	os.Exit(1)
}
