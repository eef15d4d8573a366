package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver copies the output logs to a bucket after each cycle.
type S3Archiver struct {
	client s3API
	bucket string
	prefix string
	log    logrus.FieldLogger
}

// NewS3Archiver creates an archiver using the default AWS credential chain
func NewS3Archiver(ctx context.Context, bucket, prefix string, log logrus.FieldLogger) (*S3Archiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Archiver{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		log:    log,
	}, nil
}

// Archive uploads each file to s3://bucket/prefix/<base name>, replacing the
// previous copy. Files that do not exist yet are skipped.
func (a *S3Archiver) Archive(ctx context.Context, paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := a.uploadFile(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *S3Archiver) key(filePath string) string {
	return path.Join(a.prefix, filepath.Base(filePath))
}

func (a *S3Archiver) uploadFile(ctx context.Context, filePath string) error {
	file, err := os.Open(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	key := a.key(filePath)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file %s to s3://%s/%s: %w", filePath, a.bucket, key, err)
	}

	a.log.WithFields(logrus.Fields{"bucket": a.bucket, "key": key}).Debug("Archived log")
	return nil
}
