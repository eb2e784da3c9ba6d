// Package archive keeps copies of generated claim batches in S3.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// S3Config locates the archive bucket. Endpoint is set for S3-compatible
// stores such as LocalStack or MinIO.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
}

// S3Store uploads batches to S3 with server-side encryption.
type S3Store struct {
	bucket   string
	uploader s3manageriface.UploaderAPI
}

// NewSession builds an AWS session for cfg.
func NewSession(cfg S3Config) (*session.Session, error) {
	awsCfg := aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Region == "" {
		awsCfg.Region = aws.String("us-east-1")
	}
	if cfg.Endpoint != "" {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	sess, err := session.NewSessionWithOptions(session.Options{Config: awsCfg})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return sess, nil
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	sess, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return NewS3StoreWithUploader(cfg.Bucket, s3manager.NewUploader(sess)), nil
}

func NewS3StoreWithUploader(bucket string, uploader s3manageriface.UploaderAPI) *S3Store {
	return &S3Store{bucket: bucket, uploader: uploader}
}

// Put uploads data to key. The object's SHA-256 is stored as metadata.
func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("archive key is required")
	}
	sum := sha256.Sum256(data)
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: aws.String(s3.ServerSideEncryptionAes256),
		Metadata:             map[string]*string{"sha256": aws.String(hex.EncodeToString(sum[:]))},
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
