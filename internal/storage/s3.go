package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"parlo/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// AudioStore uploads recorded voice messages to object storage so a queued
// voice action can replay with a URL instead of a local file path.
type AudioStore struct {
	client   *s3.Client
	bucket   string
	endpoint string
}

func NewAudioStore(endpoint, region, accessKey, secretKey, bucket string) (*AudioStore, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, reg string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:           endpoint,
				SigningRegion: region,
			}, nil
		})

	cfg, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithEndpointResolverWithOptions(customResolver),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	logger.Info("Audio store initialized", zap.String("bucket", bucket))

	return &AudioStore{
		client:   client,
		bucket:   bucket,
		endpoint: endpoint,
	}, nil
}

// UploadAudio stores the recording under key and returns its public URL.
func (s *AudioStore) UploadAudio(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})

	if err != nil {
		return "", fmt.Errorf("failed to upload audio: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)

	logger.Info("Audio uploaded",
		zap.String("key", key),
		zap.String("url", url))

	return url, nil
}

// GenerateKey builds a date-partitioned object key for an action's audio.
func (s *AudioStore) GenerateKey(actionID, extension string) string {
	datePrefix := time.Now().Format("2006/01/02")
	return path.Join("audio", datePrefix, fmt.Sprintf("%s%s", actionID, extension))
}

// DeleteAudio removes an uploaded recording, used when a replay turns out
// to be terminal.
func (s *AudioStore) DeleteAudio(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		return fmt.Errorf("failed to delete audio: %w", err)
	}

	logger.Debug("Audio deleted", zap.String("key", key))

	return nil
}
