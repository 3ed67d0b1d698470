package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/sitemap"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

const (
	envAWSRegion        = "AWS_REGION"
	envAWSDefaultRegion = "AWS_DEFAULT_REGION"
)

// ObjectPutter uploads a local file as an object. *minio.Client implements it.
type ObjectPutter interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Object is one uploaded file
type Object struct {
	Path string `json:"path"` // Relative to the output directory
	Key  string `json:"key"`
	Size int64  `json:"size"`
	ETag string `json:"etag,omitempty"`
}

// Result lists what a Publish call uploaded
type Result struct {
	Bucket   string        `json:"bucket"`
	Objects  []Object      `json:"objects"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// MinioPublisher uploads generated sitemap files to S3-compatible storage
type MinioPublisher struct {
	client    ObjectPutter
	bucket    string
	prefix    string
	outputDir string
	log       *logrus.Entry
}

// NewMinioPublisher connects to the configured endpoint. Without static keys, credentials come from
// the AWS_* environment variables; the region falls back to AWS_REGION / AWS_DEFAULT_REGION.
func NewMinioPublisher(cfg config.PublishConfig, outputDir string, log *logrus.Entry) (*MinioPublisher, error) {
	creds := credentials.NewEnvAWS()
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	region := cfg.Region
	if region == "" {
		region = os.Getenv(envAWSRegion)
	}
	if region == "" {
		region = os.Getenv(envAWSDefaultRegion)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Region: region,
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create storage client for %s: %w", utils.ErrPublish, cfg.Endpoint, err)
	}
	return NewPublisher(client, cfg.Bucket, cfg.Prefix, outputDir, log), nil
}

// NewPublisher creates a publisher on an existing client
func NewPublisher(client ObjectPutter, bucket, prefix, outputDir string, log *logrus.Entry) *MinioPublisher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MinioPublisher{
		client:    client,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		outputDir: outputDir,
		log:       log.WithFields(logrus.Fields{"component": "publisher", "bucket": bucket}),
	}
}

// Key returns the object name of a file relative to the output directory
func (p *MinioPublisher) Key(rel string) string {
	return path.Join(p.prefix, strings.TrimPrefix(path.Clean("/"+rel), "/"))
}

func contentType(rel string) string {
	if strings.HasSuffix(rel, ".gz") {
		return "application/gzip"
	}
	return "application/xml"
}

// Publish uploads files in the given order and stops at the first failure, so an index uploaded
// after its children never points at an object that is missing remotely.
func (p *MinioPublisher) Publish(ctx context.Context, rels ...string) (Result, error) {
	start := time.Now()
	res := Result{Bucket: p.bucket}
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("publish aborted: %w", err)
		}
		local := filepath.Join(p.outputDir, filepath.FromSlash(rel))
		key := p.Key(rel)
		info, err := p.client.FPutObject(ctx, p.bucket, key, local, minio.PutObjectOptions{
			ContentType:  contentType(rel),
			CacheControl: "no-cache",
		})
		if err != nil {
			return res, fmt.Errorf("%w: put '%s': %w", utils.ErrPublish, key, err)
		}
		res.Objects = append(res.Objects, Object{Path: rel, Key: key, Size: info.Size, ETag: info.ETag})
		res.Bytes += info.Size
		p.log.WithFields(logrus.Fields{"key": key, "size": info.Size}).Debug("Object uploaded")
	}
	res.Duration = time.Since(start)
	p.log.WithFields(logrus.Fields{"objects": len(res.Objects), "bytes": res.Bytes}).Info("Sitemap files published")
	return res, nil
}

// PublishRun uploads every artifact a generation run wrote or kept, files before the indexes
// that list them
func (p *MinioPublisher) PublishRun(ctx context.Context, run *sitemap.RunResult) (Result, error) {
	return p.Publish(ctx, UploadOrder(run)...)
}

// UploadOrder lists the artifacts of a run leaves first. Nodes complete after their children,
// so walking them in completion order, shards before the node's own file, is enough.
func UploadOrder(run *sitemap.RunResult) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, n := range run.Nodes {
		if !n.Succeeded() {
			continue
		}
		for _, s := range n.Shards {
			add(s.Path)
		}
		add(n.Path)
	}
	return out
}
