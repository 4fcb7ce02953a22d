// Package thumbs stores diagram thumbnail images in S3-compatible object
// storage. Clients render the thumbnail and upload it alongside an autosave.
package thumbs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const contentType = "image/png"

// Service reads and writes thumbnails keyed by diagram ID.
type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the thumbnail bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		log.Printf("thumbs: created bucket %s", bucket)
	}

	return &Service{client: client, bucket: bucket}, nil
}

func objectKey(diagramID string) string {
	return diagramID + ".png"
}

// Put stores the thumbnail for a diagram, replacing any previous one.
func (s *Service) Put(ctx context.Context, diagramID string, png []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(diagramID),
		bytes.NewReader(png), int64(len(png)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put thumbnail %s: %w", diagramID, err)
	}
	return nil
}

// Get returns the thumbnail bytes for a diagram, or minio's not-found error.
func (s *Service) Get(ctx context.Context, diagramID string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(diagramID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get thumbnail %s: %w", diagramID, err)
	}
	defer obj.Close()

	// Missing keys only surface on read; return the error unwrapped so
	// callers can distinguish not-found via IsNotFound.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes the thumbnail for a diagram. Missing objects are not an error.
func (s *Service) Delete(ctx context.Context, diagramID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectKey(diagramID), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("delete thumbnail %s: %w", diagramID, err)
	}
	return nil
}

// IsNotFound reports whether err is the object store's missing-key error.
func IsNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey"
	}
	return false
}
