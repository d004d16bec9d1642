package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"google.golang.org/api/option"
)

// ObjectName reduces a filename or an image URL to the bare object name, rejecting
// anything that would escape the image directory.
func ObjectName(nameOrURL string) (string, error) {
	name := path.Base(strings.TrimSpace(nameOrURL))
	if name == "" || name == "." || name == ".." || name == "/" || strings.ContainsAny(name, `\`) {
		return "", fmt.Errorf("invalid file name %q", nameOrURL)
	}
	return name, nil
}

func notExist(name string) error {
	return fmt.Errorf("%w: %s", os.ErrNotExist, name)
}

// LocalStorage keeps images under Dir/images and serves them from /uploads/images/.
type LocalStorage struct {
	Dir string
}

func (ls *LocalStorage) imageDir() string {
	return filepath.Join(ls.Dir, "images")
}

func (ls *LocalStorage) SaveFile(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := ObjectName(filename)
	if err != nil {
		return "", err
	}
	if err := EnsureDir(ls.imageDir()); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(ls.imageDir(), name), data, 0644); err != nil {
		return "", err
	}
	return "/uploads/images/" + name, nil
}

// DeleteFile removes an image. A missing file yields an error matching os.ErrNotExist.
func (ls *LocalStorage) DeleteFile(ctx context.Context, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := ObjectName(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(ls.imageDir(), name)); err != nil {
		if os.IsNotExist(err) {
			return notExist(name)
		}
		return err
	}
	return nil
}

func (ls *LocalStorage) Owns(imageURL string) bool {
	return strings.HasPrefix(imageURL, "/uploads/images/")
}

// S3Storage implements StorageService for S3-compatible object storage.
type S3Storage struct {
	Client     *minio.Client
	BucketName string
	PublicURL  string
}

func NewS3Storage(ctx context.Context, endpoint, accessKey, secretKey, bucket, region, publicURL string, useSSL bool) (*S3Storage, error) {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	var creds *credentials.Credentials
	if accessKey == "" || secretKey == "" {
		// IAM role credentials when no keys are configured
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	if publicURL == "" {
		protocol := "http"
		if useSSL {
			protocol = "https"
		}
		publicURL = fmt.Sprintf("%s://%s.%s", protocol, bucket, endpoint)
	}

	return &S3Storage{
		Client:     client,
		BucketName: bucket,
		PublicURL:  strings.TrimSuffix(publicURL, "/"),
	}, nil
}

func (s3 *S3Storage) SaveFile(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	name, err := ObjectName(filename)
	if err != nil {
		return "", err
	}
	_, err = s3.Client.PutObject(ctx, s3.BucketName, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", s3.PublicURL, name), nil
}

// DeleteFile removes an object. RemoveObject succeeds for missing keys, so existence is
// checked first to report os.ErrNotExist.
func (s3 *S3Storage) DeleteFile(ctx context.Context, filename string) error {
	name, err := ObjectName(filename)
	if err != nil {
		return err
	}
	if _, err := s3.Client.StatObject(ctx, s3.BucketName, name, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return notExist(name)
		}
		return err
	}
	return s3.Client.RemoveObject(ctx, s3.BucketName, name, minio.RemoveObjectOptions{})
}

func (s3 *S3Storage) Owns(imageURL string) bool {
	return strings.HasPrefix(imageURL, s3.PublicURL+"/")
}

// GCSStorage implements StorageService on a Google Cloud Storage bucket.
type GCSStorage struct {
	Client     *gcs.Client
	BucketName string
	PublicURL  string
}

// NewGCSStorage uses application default credentials unless credentialsFile is set.
func NewGCSStorage(ctx context.Context, bucket, credentialsFile, publicURL string) (*GCSStorage, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if publicURL == "" {
		publicURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSStorage{
		Client:     client,
		BucketName: bucket,
		PublicURL:  strings.TrimSuffix(publicURL, "/"),
	}, nil
}

func (g *GCSStorage) SaveFile(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	name, err := ObjectName(filename)
	if err != nil {
		return "", err
	}
	w := g.Client.Bucket(g.BucketName).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write to storage: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close storage writer: %w", err)
	}
	return fmt.Sprintf("%s/%s", g.PublicURL, name), nil
}

func (g *GCSStorage) DeleteFile(ctx context.Context, filename string) error {
	name, err := ObjectName(filename)
	if err != nil {
		return err
	}
	if err := g.Client.Bucket(g.BucketName).Object(name).Delete(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return notExist(name)
		}
		return fmt.Errorf("delete from storage: %w", err)
	}
	return nil
}

func (g *GCSStorage) Owns(imageURL string) bool {
	return strings.HasPrefix(imageURL, g.PublicURL+"/")
}

// Close releases the GCS client.
func (g *GCSStorage) Close() error {
	return g.Client.Close()
}
