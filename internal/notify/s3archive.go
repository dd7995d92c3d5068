package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/coldsync/internal/config"
	"github.com/ignite/coldsync/internal/domain"
	"github.com/ignite/coldsync/internal/pkg/logger"
)

// s3PutAPI is the slice of the S3 client the archiver needs.
type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each cycle summary to
// s3://<bucket>/summaries/YYYY/MM/DD/<cycle-id>.json for later analysis.
type S3Archiver struct {
	client s3PutAPI
	bucket string
}

// NewS3Archiver creates an archiver using the default AWS credential
// chain, honoring the optional profile override.
func NewS3Archiver(ctx context.Context, cfg config.NotifyConfig) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if profile := cfg.GetAWSProfile(); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
	}, nil
}

// newS3ArchiverWithClient is used by tests to inject a fake S3 client.
func newS3ArchiverWithClient(client s3PutAPI, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket}
}

// Key returns the archive object key for a summary.
func (a *S3Archiver) Key(summary *domain.CycleSummary) string {
	return fmt.Sprintf("summaries/%s/%s.json",
		summary.StartedAt.UTC().Format("2006/01/02"), summary.CycleID)
}

// Notify implements Notifier.
func (a *S3Archiver) Notify(ctx context.Context, summary *domain.CycleSummary) error {
	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	key := a.Key(summary)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archiving summary: %w", err)
	}

	logger.Debug("notify: summary archived", "bucket", a.bucket, "key", key)
	return nil
}
