// Package attachments issues presigned object-storage URLs for task
// attachments and uploads payloads through them. Attachment bytes never
// cross the sync path; only storage keys do.
package attachments

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Function seams so tests can exercise error paths without AWS
// connectivity.
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

const presignExpiry = 15 * time.Minute

// Settings are the object storage connection parameters.
type Settings struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

// Service issues presigned PUT and GET URLs against one bucket.
type Service struct {
	settings Settings
}

func NewService(settings Settings) *Service {
	return &Service{settings: settings}
}

// StorageKey builds a fresh date-partitioned object key under the
// account's prefix.
func StorageKey(accountID string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("accounts/%s/%d/%02d/%02d/%v", accountID, d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *Service) presignClient() (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(s.settings.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.settings.AccessKey,
			s.settings.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.settings.BaseEndpoint)
	})

	return newS3PresignClient(client), nil
}

// PresignedPutURL mints a storage key under the account prefix and a
// short-lived URL to upload its content.
func (s *Service) PresignedPutURL(ctx context.Context, accountID string) (string, string, error) {
	presignClient, err := s.presignClient()
	if err != nil {
		return "", "", err
	}

	bucket := s.settings.Bucket
	key := StorageKey(accountID)

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", "", err
	}

	return key, req.URL, nil
}

// PresignedGetURL returns a short-lived download URL for key.
func (s *Service) PresignedGetURL(ctx context.Context, key string) (string, error) {
	presignClient, err := s.presignClient()
	if err != nil {
		return "", err
	}

	bucket := s.settings.Bucket

	req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}
