// Package s3 is the staging object store: artifacts are uploaded here before
// the warehouse bulk-loads them.
package s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/citydata/tripline/internal/pipeline"
)

// deleteBatchSize is the S3 limit on keys per delete-objects call.
const deleteBatchSize = 1000

type Option func(*Repository)

func WithRegion(region string) Option {
	return func(r *Repository) {
		r.Region = region
	}
}

func WithBucket(bucket string) Option {
	return func(r *Repository) {
		r.Bucket = bucket
	}
}

func WithPrefix(prefix string) Option {
	return func(r *Repository) {
		r.Prefix = prefix
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		r.logger = l
	}
}

func WithForcePathStyle(forcePathStyle bool) Option {
	return func(r *Repository) {
		r.ForcePathStyle = forcePathStyle
	}
}

func WithEndpoint(endpoint string) Option {
	return func(r *Repository) {
		r.Endpoint = endpoint
	}
}

type Repository struct {
	logger   *zap.Logger
	client   *awss3.S3
	uploader *s3manager.Uploader

	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	ForcePathStyle bool
}

func New(opts ...Option) (*Repository, error) {
	r := &Repository{
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}

	awsConfig := &aws.Config{
		Region:           aws.String(r.Region),
		S3ForcePathStyle: aws.Bool(r.ForcePathStyle),
	}
	if r.Endpoint != "" {
		awsConfig.Endpoint = aws.String(r.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, pipeline.StageError(err, "create aws session")
	}
	r.client = awss3.New(sess)
	r.uploader = s3manager.NewUploader(sess)

	return r, nil
}

// Upload streams a local file to the staging area under the repository
// prefix, server-side encrypted. Returns the object key.
func (r *Repository) Upload(ctx context.Context, localPath string, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", pipeline.StageError(err, "open %s for upload", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", pipeline.StageError(err, "stat %s", localPath)
	}

	objKey := path.Join(r.Prefix, key)
	r.logger.Debug("uploading to staging area",
		zap.String("key", objKey),
		zap.String("bucket", r.Bucket),
		zap.Int64("size_bytes", info.Size()),
	)

	_, err = r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:               aws.String(r.Bucket),
		Key:                  aws.String(objKey),
		Body:                 f,
		ServerSideEncryption: aws.String("AES256"),
		Metadata: map[string]*string{
			"original-filename": aws.String(path.Base(localPath)),
			"upload-timestamp":  aws.String(time.Now().UTC().Format(time.RFC3339)),
			"file-size-bytes":   aws.String(fmt.Sprintf("%d", info.Size())),
		},
	})
	if err != nil {
		return "", pipeline.StageError(err, "upload %s to s3://%s/%s", localPath, r.Bucket, objKey)
	}

	r.logger.Info("uploaded staged object",
		zap.String("bucket", r.Bucket),
		zap.String("key", objKey),
	)
	return objKey, nil
}

// HeadBucket reports whether the staging bucket is reachable.
func (r *Repository) HeadBucket(ctx context.Context) error {
	_, err := r.client.HeadBucketWithContext(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(r.Bucket),
	})
	return err
}

// EnsureBucket creates the staging bucket if it does not exist.
func (r *Repository) EnsureBucket(ctx context.Context) error {
	err := r.HeadBucket(ctx)
	if err == nil {
		return nil
	}

	aerr, ok := err.(awserr.RequestFailure)
	if !ok || aerr.StatusCode() != 404 {
		return pipeline.StageError(err, "access bucket %s", r.Bucket)
	}

	input := &awss3.CreateBucketInput{Bucket: aws.String(r.Bucket)}
	// us-east-1 rejects an explicit LocationConstraint.
	if r.Region != "" && r.Region != "us-east-1" {
		input.CreateBucketConfiguration = &awss3.CreateBucketConfiguration{
			LocationConstraint: aws.String(r.Region),
		}
	}
	if _, err := r.client.CreateBucketWithContext(ctx, input); err != nil {
		return pipeline.StageError(err, "create bucket %s", r.Bucket)
	}

	r.logger.Info("created staging bucket", zap.String("bucket", r.Bucket))
	return nil
}

// StagedObject is one object in the staging area.
type StagedObject struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
}

// List returns the staged objects under the repository prefix.
func (r *Repository) List(ctx context.Context) ([]StagedObject, error) {
	var objects []StagedObject
	err := r.client.ListObjectsV2PagesWithContext(ctx, &awss3.ListObjectsV2Input{
		Bucket: aws.String(r.Bucket),
		Prefix: aws.String(r.Prefix),
	}, func(page *awss3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, StagedObject{
				Key:          aws.StringValue(obj.Key),
				SizeBytes:    aws.Int64Value(obj.Size),
				LastModified: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, pipeline.StageError(err, "list staged objects under %s", r.Prefix)
	}
	return objects, nil
}

// CleanupOlderThan deletes staged objects past the age threshold in batches
// and returns the count removed. Cleanup is best-effort: errors are logged
// and a zero count returned, never raised.
func (r *Repository) CleanupOlderThan(ctx context.Context, olderThanDays int) int {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	objects, err := r.List(ctx)
	if err != nil {
		r.logger.Error("failed to list staged objects for cleanup", zap.Error(err))
		return 0
	}

	stale := SelectOlderThan(objects, cutoff)
	if len(stale) == 0 {
		r.logger.Info("no stale staged objects to clean up")
		return 0
	}

	deleted := 0
	for start := 0; start < len(stale); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(stale) {
			end = len(stale)
		}
		batch := make([]*awss3.ObjectIdentifier, 0, end-start)
		for _, obj := range stale[start:end] {
			batch = append(batch, &awss3.ObjectIdentifier{Key: aws.String(obj.Key)})
		}

		_, err := r.client.DeleteObjectsWithContext(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(r.Bucket),
			Delete: &awss3.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		if err != nil {
			r.logger.Error("failed to delete staged objects", zap.Error(err))
			return deleted
		}
		deleted += len(batch)
	}

	r.logger.Info("cleaned up staged objects",
		zap.Int("deleted", deleted),
		zap.Int("older_than_days", olderThanDays),
	)
	return deleted
}

// SelectOlderThan filters objects last modified before the cutoff.
func SelectOlderThan(objects []StagedObject, cutoff time.Time) []StagedObject {
	var stale []StagedObject
	for _, obj := range objects {
		if obj.LastModified.Before(cutoff) {
			stale = append(stale, obj)
		}
	}
	return stale
}

// URL renders the s3:// location of the repository prefix, as consumed by
// the warehouse-side stage binding.
func (r *Repository) URL() string {
	return fmt.Sprintf("s3://%s/%s", r.Bucket, r.Prefix)
}
