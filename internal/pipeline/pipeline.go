// Package pipeline drives one publish run end to end: album validation,
// sequence allocation, kit conversion, artifact upload, pin publication,
// the catalog write, render fleet verification, and the notification
// campaign. Stages run strictly in that order and the first failure stops
// the run; nothing already published is rolled back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/makerloom/stitchpress/internal/artifact"
	"github.com/makerloom/stitchpress/internal/campaign"
	"github.com/makerloom/stitchpress/internal/catalog"
	"github.com/makerloom/stitchpress/internal/config"
	"github.com/makerloom/stitchpress/internal/convert"
	"github.com/makerloom/stitchpress/internal/pattern"
	"github.com/makerloom/stitchpress/internal/pkg/distlock"
	"github.com/makerloom/stitchpress/internal/pkg/logger"
)

// ErrLocked reports that a concurrent publish run holds the publish lock.
var ErrLocked = errors.New("another publish run holds the lock")

// Catalog is the slice of the item store a publish run touches.
type Catalog interface {
	GetAlbum(ctx context.Context, albumID string) (*catalog.AlbumRecord, error)
	PutDesign(ctx context.Context, rec *catalog.DesignRecord) error
}

// Uploader publishes the artifact bundle and resolves public URLs.
type Uploader interface {
	Upload(ctx context.Context, albumID string, designID int, title string, b artifact.Bundle) (*artifact.Artifacts, error)
	PublicURL(key string) string
}

// PinPublisher posts the design to the pinboard.
type PinPublisher interface {
	Publish(ctx context.Context, albumID, caption string, info *pattern.Info, link, imageURL string) (string, error)
}

// FleetVerifier reboots the render fleet and polls it back to health.
type FleetVerifier interface {
	Verify(ctx context.Context, progress func(string)) error
}

// CampaignRunner sends the notification campaign for a published design.
type CampaignRunner interface {
	Run(ctx context.Context, content campaign.Content) (*campaign.Summary, error)
}

// Deps bundles the collaborators a publish run drives. Fleet, Campaign and
// Lock may be nil, which disables that part of the run.
type Deps struct {
	Catalog   Catalog
	Sequence  catalog.Sequence
	Converter convert.Converter
	Artifacts Uploader
	Pins      PinPublisher
	Fleet     FleetVerifier
	Campaign  CampaignRunner
	Lock      distlock.Lock

	CampaignCfg config.CampaignConfig
	ShopBaseURL string
}

// PublishRequest describes one design to publish.
type PublishRequest struct {
	AlbumID   string
	Info      *pattern.Info
	ChartPath string
	KitPaths  map[string]string // kit variant ("1", "2", ...) -> exported kit PDF
	PhotoPath string

	SkipCampaign bool
}

// Validate checks the request before any external call is made.
func (r *PublishRequest) Validate() error {
	if r.AlbumID == "" {
		return fmt.Errorf("album id is required")
	}
	if r.Info == nil {
		return fmt.Errorf("design metadata is required")
	}
	if err := r.Info.Validate(); err != nil {
		return err
	}
	if r.ChartPath == "" {
		return fmt.Errorf("chart path is required")
	}
	if len(r.KitPaths) == 0 {
		return fmt.Errorf("at least one kit variant is required")
	}
	if r.PhotoPath == "" {
		return fmt.Errorf("photo path is required")
	}
	return nil
}

// Result summarizes a finished run.
type Result struct {
	DesignID    int
	NPage       string
	NGlobalPage int
	PinID       string
	DesignURL   string
	Artifacts   *artifact.Artifacts
	Verified    bool
	Campaign    *campaign.Summary
}

// Orchestrator executes a single publish run. It is single-use: Run may be
// called once, and the event stream closes when Run returns.
type Orchestrator struct {
	deps   Deps
	runID  string
	events chan Event
}

// New builds an orchestrator. Callers must drain Events while Run executes.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		runID:  "run-" + uuid.New().String()[:8],
		events: make(chan Event, 64),
	}
}

// Events is the progress stream for this run.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Progress returns a sink that forwards plain progress messages as events
// for the given stage. Collaborators that report through callbacks, like
// the campaign runner, are wired up with it.
func (o *Orchestrator) Progress(stage Stage) func(string) {
	return func(msg string) { o.emit(stage, "%s", msg) }
}

func (o *Orchestrator) emit(stage Stage, format string, args ...interface{}) {
	o.events <- Event{Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// Run publishes one design. A failure before the catalog write returns
// (nil, err); a non-nil Result alongside an error means the design record
// itself was published and the failure came later, from fleet verification
// or the campaign.
func (o *Orchestrator) Run(ctx context.Context, req PublishRequest) (*Result, error) {
	defer close(o.events)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	album, err := o.deps.Catalog.GetAlbum(ctx, req.AlbumID)
	if err != nil {
		return nil, fmt.Errorf("validating album: %w", err)
	}
	logger.Info("publish run starting", "run_id", o.runID, "album_id", album.AlbumID, "title", req.Info.Title)
	o.emit(StageSetup, "publishing %q to album %s (%s)", req.Info.Title, album.AlbumID, album.Caption)

	if o.deps.Lock != nil {
		ok, err := o.deps.Lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring publish lock: %w", err)
		}
		if !ok {
			return nil, ErrLocked
		}
		defer func() {
			if err := o.deps.Lock.Release(ctx); err != nil {
				logger.Warn("releasing publish lock", "error", err.Error())
			}
		}()
		o.emit(StageSetup, "publish lock acquired")
	}

	designID, globalPage, nPage, err := o.allocate(ctx, req.AlbumID)
	if err != nil {
		return nil, err
	}
	o.emit(StageSequence, "design %d, page %s in album %s, global page %d", designID, nPage, req.AlbumID, globalPage)

	converted, err := o.convertKits(ctx, req.KitPaths)
	if err != nil {
		return nil, err
	}

	o.emit(StageUpload, "uploading artifacts for design %d", designID)
	arts, err := o.deps.Artifacts.Upload(ctx, req.AlbumID, designID, req.Info.Title, artifact.Bundle{
		ChartPath: req.ChartPath,
		KitPaths:  converted,
		PhotoPath: req.PhotoPath,
	})
	if err != nil {
		return nil, fmt.Errorf("uploading artifacts: %w", err)
	}
	o.emit(StageUpload, "uploaded chart, %d kit(s), photo", len(arts.KitKeys))

	link := o.designLink(designID)
	if link == "" {
		link = o.deps.Artifacts.PublicURL(arts.PhotoKey)
	}

	pinID, err := o.deps.Pins.Publish(ctx, req.AlbumID, album.Caption, req.Info, link, o.deps.Artifacts.PublicURL(arts.PhotoKey))
	if err != nil {
		return nil, fmt.Errorf("publishing pin: %w", err)
	}
	if pinID == "" {
		o.emit(StagePin, "pin created, id unknown")
	} else {
		o.emit(StagePin, "pin %s created", pinID)
	}

	// The pin goes out first so its id lands in the record; a failed pin
	// therefore leaves no catalog entry behind.
	rec := &catalog.DesignRecord{
		AlbumID:     req.AlbumID,
		NPage:       nPage,
		DesignID:    designID,
		NGlobalPage: globalPage,
		Title:       req.Info.Title,
		Description: req.Info.Description,
		Notes:       req.Info.Notes,
		Width:       req.Info.Width,
		Height:      req.Info.Height,
		NColors:     req.Info.NColors,
		PinID:       pinID,
	}
	if err := o.deps.Catalog.PutDesign(ctx, rec); err != nil {
		return nil, fmt.Errorf("writing catalog record: %w", err)
	}
	o.emit(StageCatalog, "catalog record written: album %s page %s", req.AlbumID, nPage)

	res := &Result{
		DesignID:    designID,
		NPage:       nPage,
		NGlobalPage: globalPage,
		PinID:       pinID,
		DesignURL:   link,
		Artifacts:   arts,
	}

	if o.deps.Fleet != nil {
		o.emit(StageFleet, "verifying render fleet")
		if err := o.deps.Fleet.Verify(ctx, o.Progress(StageFleet)); err != nil {
			return res, fmt.Errorf("verifying fleet: %w", err)
		}
		res.Verified = true
	}

	if req.SkipCampaign || o.deps.Campaign == nil {
		o.emit(StageCampaign, "campaign skipped")
		return res, nil
	}
	content, err := campaign.LoadContent(o.deps.CampaignCfg, req.Info.Title, link, strconv.Itoa(designID))
	if err != nil {
		return res, fmt.Errorf("loading campaign content: %w", err)
	}
	summary, err := o.deps.Campaign.Run(ctx, content)
	if err != nil {
		return res, fmt.Errorf("running campaign: %w", err)
	}
	res.Campaign = summary
	o.emit(StageCampaign, "campaign finished: %d/%d sent", summary.Sent, summary.Target)

	return res, nil
}

func (o *Orchestrator) allocate(ctx context.Context, albumID string) (designID, globalPage int, nPage string, err error) {
	designStr, err := o.deps.Sequence.Next(ctx, catalog.KindDesignID, "")
	if err != nil {
		return 0, 0, "", fmt.Errorf("allocating design id: %w", err)
	}
	designID, err = strconv.Atoi(designStr)
	if err != nil {
		return 0, 0, "", fmt.Errorf("allocating design id: %w", err)
	}
	globalStr, err := o.deps.Sequence.Next(ctx, catalog.KindGlobalPage, "")
	if err != nil {
		return 0, 0, "", fmt.Errorf("allocating global page: %w", err)
	}
	globalPage, err = strconv.Atoi(globalStr)
	if err != nil {
		return 0, 0, "", fmt.Errorf("allocating global page: %w", err)
	}
	nPage, err = o.deps.Sequence.Next(ctx, catalog.KindAlbumPage, albumID)
	if err != nil {
		return 0, 0, "", fmt.Errorf("allocating album page: %w", err)
	}
	return designID, globalPage, nPage, nil
}

// convertKits runs every variant through the converter before anything is
// uploaded, so a conversion failure never leaves a partial kit set in the
// bucket.
func (o *Orchestrator) convertKits(ctx context.Context, kits map[string]string) (map[string]string, error) {
	variants := make([]string, 0, len(kits))
	for v := range kits {
		variants = append(variants, v)
	}
	sort.Slice(variants, func(i, j int) bool {
		a, errA := strconv.Atoi(variants[i])
		b, errB := strconv.Atoi(variants[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return variants[i] < variants[j]
	})

	o.emit(StageConvert, "converting %d kit variant(s)", len(variants))
	converted := make(map[string]string, len(kits))
	for _, v := range variants {
		out, err := o.deps.Converter.Convert(ctx, kits[v])
		if err != nil {
			return nil, fmt.Errorf("converting kit variant %s: %w", v, err)
		}
		converted[v] = out
		o.emit(StageConvert, "variant %s ready: %s", v, filepath.Base(out))
	}
	return converted, nil
}

func (o *Orchestrator) designLink(designID int) string {
	if o.deps.ShopBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/designs/%d", strings.TrimRight(o.deps.ShopBaseURL, "/"), designID)
}
