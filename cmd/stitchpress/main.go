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

	"github.com/redis/go-redis/v9"

	"github.com/makerloom/stitchpress/internal/artifact"
	"github.com/makerloom/stitchpress/internal/campaign"
	"github.com/makerloom/stitchpress/internal/catalog"
	"github.com/makerloom/stitchpress/internal/config"
	"github.com/makerloom/stitchpress/internal/convert"
	"github.com/makerloom/stitchpress/internal/fleet"
	"github.com/makerloom/stitchpress/internal/pattern"
	"github.com/makerloom/stitchpress/internal/pinboard"
	"github.com/makerloom/stitchpress/internal/pipeline"
	"github.com/makerloom/stitchpress/internal/pkg/distlock"
	"github.com/makerloom/stitchpress/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "stitchpress.yaml", "path to the configuration file")
	albumID := flag.String("album", "", "album id to publish into (e.g. 7 or 0007)")
	patternPath := flag.String("pattern", "", "YAML file with the design metadata")
	chartPath := flag.String("chart", "", "chart file to publish")
	kitList := flag.String("kits", "", "comma-separated kit PDFs in variant order (variant 1 first)")
	photoPath := flag.String("photo", "", "preview photo for the pin and thumbnail")
	skipCampaign := flag.Bool("skip-campaign", false, "publish without sending the announcement campaign")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		die("load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}
	if err := cfg.ValidatePublish(); err != nil {
		die("%v", err)
	}

	if *albumID == "" || *patternPath == "" || *chartPath == "" || *kitList == "" || *photoPath == "" {
		die("-album, -pattern, -chart, -kits and -photo are all required")
	}

	info, err := pattern.LoadInfo(*patternPath)
	if err != nil {
		die("%v", err)
	}

	kits := map[string]string{}
	for i, p := range strings.Split(*kitList, ",") {
		if p = strings.TrimSpace(p); p != "" {
			kits[strconv.Itoa(i+1)] = p
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := catalog.NewStore(ctx, cfg.Storage)
	if err != nil {
		die("catalog: %v", err)
	}
	seq, err := catalog.NewSequence(store, cfg.Storage.SequenceMode)
	if err != nil {
		die("%v", err)
	}
	publisher, err := artifact.NewPublisher(ctx, cfg.Storage)
	if err != nil {
		die("artifact publisher: %v", err)
	}
	verifier, err := fleet.NewVerifier(ctx, cfg.Fleet)
	if err != nil {
		die("fleet verifier: %v", err)
	}

	opts := []convert.Option{convert.WithBinary(cfg.Converter.Binary)}
	if d := cfg.Converter.Timeout(); d > 0 {
		opts = append(opts, convert.WithTimeout(d))
	}

	deps := pipeline.Deps{
		Catalog:   store,
		Sequence:  seq,
		Converter: convert.NewCLI(opts...),
		Artifacts: publisher,
		Pins: pinboard.NewPublisher(
			pinboard.NewClient(cfg.Pinboard),
			pinboard.NewBoardIndex(cfg.Pinboard.BoardsCSV, cfg.Pinboard.DefaultBoardID),
			cfg.Pinboard.AutoCreateBoards,
		),
		Fleet:       verifier,
		CampaignCfg: cfg.Campaign,
		ShopBaseURL: cfg.Pinboard.ShopBaseURL,
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		deps.Lock = distlock.NewRedisLock(client, "publish", cfg.Redis.LockTTL())
	}

	var orch *pipeline.Orchestrator
	if !*skipCampaign {
		if err := cfg.ValidateCampaign(); err != nil {
			die("%v", err)
		}
		mailer, err := campaign.NewMailer(ctx, cfg.Campaign)
		if err != nil {
			die("campaign mailer: %v", err)
		}
		deps.Campaign = campaign.NewRunner(store, mailer, cfg.Campaign, func(msg string) {
			orch.Progress(pipeline.StageCampaign)(msg)
		})
	}
	orch = pipeline.New(deps)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range orch.Events() {
			fmt.Println(ev.String())
		}
	}()

	res, err := orch.Run(ctx, pipeline.PublishRequest{
		AlbumID:      normalizeAlbum(*albumID),
		Info:         info,
		ChartPath:    *chartPath,
		KitPaths:     kits,
		PhotoPath:    *photoPath,
		SkipCampaign: *skipCampaign,
	})
	<-done

	if err != nil {
		if res != nil {
			fmt.Printf("design %d is published, but the run did not finish cleanly\n", res.DesignID)
		}
		die("%v", err)
	}

	fmt.Println()
	fmt.Printf("Design %d published: page %s in album %s, global page %d\n",
		res.DesignID, res.NPage, normalizeAlbum(*albumID), res.NGlobalPage)
	if res.PinID != "" {
		fmt.Printf("Pin:  %s\n", res.PinID)
	}
	fmt.Printf("Link: %s\n", res.DesignURL)
	if res.Campaign != nil {
		fmt.Printf("Campaign: %d/%d sent in %s\n", res.Campaign.Sent, res.Campaign.Target, res.Campaign.Elapsed.Round(100*time.Millisecond))
	}
}

// normalizeAlbum pads numeric album ids to the canonical 4-digit form the
// catalog and board mapping use.
func normalizeAlbum(id string) string {
	id = strings.TrimSpace(id)
	if n, err := strconv.Atoi(id); err == nil {
		return fmt.Sprintf("%04d", n)
	}
	return id
}

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "stitchpress: "+format+"\n", args...)
	os.Exit(1)
}
