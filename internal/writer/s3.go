package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"launchwatch/config"
	"launchwatch/internal/events"
	"launchwatch/logger"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver stores one JSON object per announcement under
// <prefix>/date=YYYY-MM-DD/.
type S3Archiver struct {
	client  objectPutter
	bucket  string
	prefix  string
	version string
	timeout time.Duration
	sub     *subscriber
}

func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig, appVersion string, log *logger.Log) (*S3Archiver, error) {
	bucket, err := normalizeBucketName(cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetLogger()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"bucket": bucket,
		"prefix": cfg.Prefix,
		"region": cfg.Region,
	}).Debug("s3 archiver initialized")
	return newS3Archiver(client, bucket, cfg.Prefix, appVersion, log), nil
}

func newS3Archiver(client objectPutter, bucket, prefix, version string, log *logger.Log) *S3Archiver {
	a := &S3Archiver{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		version: version,
		timeout: 30 * time.Second,
	}
	a.sub = &subscriber{name: "s3_archiver", handle: a.archive, log: log.WithComponent("s3_archiver")}
	return a
}

func (a *S3Archiver) Start(ctx context.Context, bus *events.Bus) error {
	return a.sub.start(ctx, bus, 256)
}

func (a *S3Archiver) Stop() { a.sub.stop() }

func (a *S3Archiver) archive(ctx context.Context, env announcementEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.objectKey(env)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"identity-key":        env.Announcement.IdentityKey,
			"launchwatch-version": a.version,
		},
	})
	if err != nil {
		return fmt.Errorf("upload announcement: %w", err)
	}
	return nil
}

func (a *S3Archiver) objectKey(env announcementEnvelope) string {
	at := env.Announcement.AnnouncedAt
	if at.IsZero() {
		at = env.Timestamp
	}
	name := fmt.Sprintf("%s_%s.json", at.UTC().Format("20060102T150405"), sanitizeKey(env.Announcement.IdentityKey))
	return path.Join(a.prefix, "date="+at.UTC().Format("2006-01-02"), name)
}

// sanitizeKey keeps identity keys readable in object names.
func sanitizeKey(key string) string {
	return strings.NewReplacer("::", "-", "/", "-", ":", "-", " ", "_").Replace(key)
}

func normalizeBucketName(bucket string) (string, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return "", fmt.Errorf("s3 bucket is required")
	}
	return bucket, nil
}
