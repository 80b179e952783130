package artifact

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

type objectUploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Mirror copies release files to an S3 bucket next to the GitHub release.
type S3Mirror struct {
	bucket   string
	prefix   string
	uploader objectUploader
}

// NewS3Mirror loads the shared AWS configuration for profile (empty for the
// default chain) and builds a multipart uploader.
func NewS3Mirror(ctx context.Context, profile, bucket, prefix string) (*S3Mirror, error) {
	opts := []func(*config.LoadOptions) error{config.WithRetryMode(aws.RetryModeAdaptive)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Mirror{bucket: bucket, prefix: prefix, uploader: manager.NewUploader(client)}, nil
}

// Key returns the object key for file under tag.
func (m *S3Mirror) Key(tag, file string) string {
	return path.Join(m.prefix, tag, filepath.Base(file))
}

// Mirror uploads files under <prefix>/<tag>/ and returns their keys.
func (m *S3Mirror) Mirror(ctx context.Context, tag string, files []string) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, file := range files {
		key := m.Key(tag, file)
		if err := m.put(ctx, key, file); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	log.Info().Str("op", "artifact/s3mirror").Msgf("mirrored %d files to s3://%s/%s", len(keys), m.bucket, path.Join(m.prefix, tag))
	return keys, nil
}

func (m *S3Mirror) put(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("error uploading %s to s3://%s/%s: %v", file, m.bucket, key, err)
	}
	return nil
}
