// Package artifact uploads the published files for a design to S3: the
// chart, the converted kit PDFs, the compatibility kit copy, and the preview
// photo with its thumbnail.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/makerloom/stitchpress/internal/config"
	"github.com/makerloom/stitchpress/internal/pkg/logger"
)

// s3API is the slice of the S3 client the publisher uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// UploadError reports which key failed. Earlier uploads from the same run
// stay where they are; there is no compensation pass.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Bundle is the set of local files to publish for one design.
type Bundle struct {
	ChartPath string
	KitPaths  map[string]string // variant → converted PDF path
	PhotoPath string
}

// Artifacts records the keys written by one publish, in upload order.
type Artifacts struct {
	ChartKey     string
	KitKeys      map[string]string
	LegacyKitKey string
	PhotoKey     string
	ThumbKey     string
}

// Publisher writes design artifacts to the public bucket.
type Publisher struct {
	client        s3API
	bucket        string
	region        string
	publicBaseURL string
}

// NewPublisher builds a publisher from the storage configuration.
func NewPublisher(ctx context.Context, cfg config.StorageConfig) (*Publisher, error) {
	var awsCfg aws.Config
	var err error

	if profile := cfg.GetAWSProfile(); profile != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWSRegion),
			awsconfig.WithSharedConfigProfile(profile),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWSRegion),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	p := NewPublisherWithClient(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.PublicBaseURL)
	p.region = cfg.AWSRegion
	return p, nil
}

// NewPublisherWithClient wires a publisher onto an existing client.
func NewPublisherWithClient(client s3API, bucket, publicBaseURL string) *Publisher {
	return &Publisher{client: client, bucket: bucket, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

// Upload publishes the bundle in the fixed order: chart, kit variants,
// compatibility copy of kit variant "1", preview photo, thumbnail. The
// first failure stops the run; keys already written are left in place.
// Only the thumbnail is best-effort.
func (p *Publisher) Upload(ctx context.Context, albumID string, designID int, title string, b Bundle) (*Artifacts, error) {
	arts := &Artifacts{KitKeys: map[string]string{}}

	chartKey := ChartKey(designID, title, filepath.Ext(b.ChartPath))
	if err := p.putFile(ctx, chartKey, b.ChartPath, chartContentType(filepath.Ext(b.ChartPath))); err != nil {
		return arts, err
	}
	arts.ChartKey = chartKey

	for _, variant := range sortedVariants(b.KitPaths) {
		key := KitKey(albumID, designID, variant)
		if err := p.putFile(ctx, key, b.KitPaths[variant], "application/pdf"); err != nil {
			return arts, err
		}
		arts.KitKeys[variant] = key
	}

	// Older shop pages link the un-versioned kit path, so variant "1" goes
	// up a second time under the historical key.
	if legacySrc, ok := b.KitPaths["1"]; ok {
		key := LegacyKitKey(albumID, designID)
		if err := p.putFile(ctx, key, legacySrc, "application/pdf"); err != nil {
			return arts, err
		}
		arts.LegacyKitKey = key
	}

	photoKey := PhotoKey(albumID, designID, filepath.Base(b.PhotoPath))
	if err := p.putFile(ctx, photoKey, b.PhotoPath, "image/jpeg"); err != nil {
		return arts, err
	}
	arts.PhotoKey = photoKey

	if key, err := p.publishThumbnail(ctx, albumID, designID, b.PhotoPath); err != nil {
		logger.Warn("Skipping preview thumbnail", "design_id", designID, "error", err)
	} else {
		arts.ThumbKey = key
	}

	return arts, nil
}

func (p *Publisher) publishThumbnail(ctx context.Context, albumID string, designID int, photoPath string) (string, error) {
	f, err := os.Open(photoPath)
	if err != nil {
		return "", fmt.Errorf("opening photo: %w", err)
	}
	defer f.Close()

	data, err := renderThumbnail(f, thumbMaxWidth, thumbJPEGQuality)
	if err != nil {
		return "", err
	}

	key := ThumbKey(albumID, designID, filepath.Base(photoPath))
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return "", &UploadError{Key: key, Err: err}
	}
	return key, nil
}

func (p *Publisher) putFile(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return &UploadError{Key: key, Err: err}
	}
	defer f.Close()

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return &UploadError{Key: key, Err: err}
	}
	return nil
}

// Delete removes one object. S3 treats a missing key as a successful
// delete, so retrying a takedown is safe.
func (p *Publisher) Delete(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Remove takes down every object a publish run wrote. Each key is attempted
// even when an earlier one fails; failures are reported together so a rerun
// can finish the job.
func (p *Publisher) Remove(ctx context.Context, arts Artifacts) error {
	keys := []string{arts.ChartKey}
	for _, variant := range sortedVariants(arts.KitKeys) {
		keys = append(keys, arts.KitKeys[variant])
	}
	keys = append(keys, arts.LegacyKitKey, arts.PhotoKey, arts.ThumbKey)

	var failed []string
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := p.Delete(ctx, key); err != nil {
			logger.Warn("Takedown delete failed", "key", key, "error", err)
			failed = append(failed, key)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("takedown left %d object(s) in place: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// PublicURL renders the browsable URL for an uploaded key.
func (p *Publisher) PublicURL(key string) string {
	if p.publicBaseURL != "" {
		return p.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.bucket, p.region, key)
}

// ChartKey names the uploaded chart. The design id is zero-padded so the
// bucket listing sorts by id.
func ChartKey(designID int, title, ext string) string {
	return fmt.Sprintf("charts/%05d_%s%s", designID, title, ext)
}

// KitKey names a kit PDF variant.
func KitKey(albumID string, designID int, variant string) string {
	return fmt.Sprintf("pdfs/%s/%d/Stitch%d_%s_Kit.pdf", albumID, designID, designID, variant)
}

// LegacyKitKey is the pre-variant kit path older shop pages still link.
func LegacyKitKey(albumID string, designID int) string {
	return fmt.Sprintf("pdfs/%s/Stitch%d_Kit.pdf", albumID, designID)
}

// PhotoKey names the finished-piece preview photo.
func PhotoKey(albumID string, designID int, fileName string) string {
	return fmt.Sprintf("photos/%s/%d/%s", albumID, designID, fileName)
}

// ThumbKey names the downscaled preview.
func ThumbKey(albumID string, designID int, fileName string) string {
	return fmt.Sprintf("photos/%s/%d/thumb_%s", albumID, designID, fileName)
}

func chartContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".csv":
		return "text/csv"
	case ".html", ".htm":
		return "text/html"
	default:
		return "text/plain"
	}
}

// sortedVariants orders kit variants numerically where possible so uploads
// happen in a stable order.
func sortedVariants(kits map[string]string) []string {
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
	return variants
}
