package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"southwinds.dev/tether/internal/crypto"
	"southwinds.dev/tether/internal/debug"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	ctxTimeout = 10 * time.Second
)

// S3Store implements the Store interface using MinIO as the backend.
// Object layout:
//
//	bucketName/
//	└── [keyPrefix/]namespace/
//	    ├── store.json                  # StoreInfo
//	    └── records/
//	        ├── secure_jules_api_key    # envelope
//	        └── jules_api_key           # legacy plaintext record
type S3Store struct {
	// client is the MinIO client used to interact with the S3 endpoint.
	client *minio.Client

	// bucketName is the bucket holding the records.
	bucketName string

	// keyPrefix optionally separates several applications sharing a bucket.
	keyPrefix string

	// namespace isolates the records of one vault.
	namespace string
}

var _ Store = (*S3Store)(nil)

// S3Config contains the configuration required to connect to S3 (MinIO).
type S3Config struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"`                   // The endpoint for the S3 service.
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`         // The Access Key ID for accessing the S3 service.
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"` // The Secret Access Key for accessing the S3 service.
	Bucket          string `json:"bucket" yaml:"bucket"`                       // The S3 bucket to use.
	KeyPrefix       string `json:"prefix" yaml:"prefix"`                       // The prefix for keys stored in the bucket.
	UseSSL          bool   `json:"use_ssl" yaml:"use_ssl"`                     // Whether to use SSL for the connection.
	Region          string `json:"region" yaml:"region"`                       // The region of the bucket.
}

// NewS3Store connects to the endpoint, makes sure the bucket exists and
// writes the namespace StoreInfo object if it is missing.
func NewS3Store(config S3Config, namespace string) (*S3Store, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}

	if err := validateNamespace(namespace); err != nil {
		return nil, fmt.Errorf("invalid namespace: %w", err)
	}

	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	// minio expects host[:port] without a scheme
	endpoint := config.Endpoint
	if strings.HasPrefix(endpoint, "http://") {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		config.UseSSL = false
	} else if strings.HasPrefix(endpoint, "https://") {
		endpoint = strings.TrimPrefix(endpoint, "https://")
		config.UseSSL = true
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  config.KeyPrefix,
		namespace:  namespace,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err = store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	if err = store.initializeStoreInfo(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store info: %w", err)
	}

	return store, nil
}

// NewS3StoreFromConfig initializes a new S3Store instance from the given StoreConfig.
func NewS3StoreFromConfig(config StoreConfig, namespace string) (*S3Store, error) {
	if config.Type != StoreTypeS3 {
		return nil, fmt.Errorf("invalid store type for MinIO: %s", config.Type)
	}

	// Parse the config map into S3Config
	configBytes, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var s3Config S3Config
	if err = json.Unmarshal(configBytes, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal S3 config: %w", err)
	}

	return NewS3Store(s3Config, namespace)
}

func (s3s *S3Store) initializeStoreInfo(ctx context.Context) error {
	objectName := s3s.buildNamespacePath("store.json")
	debug.Print("S3Store.initializeStoreInfo: object '%s'\n", objectName)

	_, err := s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err == nil {
		return nil
	}
	if !s3s.isNotFoundError(err) {
		return fmt.Errorf("failed to check store info: %w", err)
	}

	info := StoreInfo{
		Version:   "1.0.0",
		Namespace: s3s.namespace,
		CreatedAt: time.Now().UTC(),
		Structure: "v1",
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store info: %w", err)
	}

	_, err = s3s.client.PutObject(ctx, s3s.bucketName, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"data-type":  "store-info",
				"namespace":  s3s.namespace,
				"created-at": info.CreatedAt.Format(time.RFC3339),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to create store info: %w", err)
	}
	return nil
}

func (s3s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	objectName, err := s3s.recordObjectName(key)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, ctxTimeout)
	defer cancel()

	object, err := s3s.client.GetObject(ctx, s3s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		if s3s.isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record %s: %w", key, err)
	}
	defer object.Close()

	// GetObject is lazy; a missing key only surfaces on the first read
	data, err := io.ReadAll(object)
	if err != nil {
		if s3s.isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read record %s: %w", key, err)
	}

	return data, nil
}

func (s3s *S3Store) Set(ctx context.Context, key string, value []byte) error {
	objectName, err := s3s.recordObjectName(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, ctxTimeout)
	defer cancel()

	_, err = s3s.client.PutObject(ctx, s3s.bucketName, objectName,
		bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			UserMetadata: map[string]string{
				"data-type":      "record",
				"namespace":      s3s.namespace,
				"content-sha256": crypto.CalculateChecksum(value),
				"updated-at":     time.Now().UTC().Format(time.RFC3339),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to put record %s: %w", key, err)
	}
	return nil
}

func (s3s *S3Store) Delete(ctx context.Context, key string) error {
	objectName, err := s3s.recordObjectName(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, ctxTimeout)
	defer cancel()

	// S3 DeleteObject succeeds for missing keys
	if err = s3s.client.RemoveObject(ctx, s3s.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		if s3s.isNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

func (s3s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	objectName, err := s3s.recordObjectName(key)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, ctxTimeout)
	defer cancel()

	_, err = s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if s3s.isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat record %s: %w", key, err)
	}
	return true, nil
}

// Ping tests connectivity by checking the bucket exists
func (s3s *S3Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ctxTimeout)
	defer cancel()

	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to ping S3: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s3s.bucketName)
	}
	return nil
}

func (s3s *S3Store) Close() error {
	return nil
}

func (s3s *S3Store) GetType() string {
	return string(StoreTypeS3)
}

func (s3s *S3Store) recordObjectName(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return s3s.buildNamespacePath("records", key), nil
}

func (s3s *S3Store) buildNamespacePath(components ...string) string {
	var parts []string

	if s3s.keyPrefix != "" {
		cleanPrefix := strings.Trim(s3s.keyPrefix, "/")
		if cleanPrefix != "" {
			parts = append(parts, cleanPrefix)
		}
	}

	parts = append(parts, s3s.namespace)

	for _, component := range components {
		if component != "" {
			parts = append(parts, component)
		}
	}

	return strings.Join(parts, "/")
}

func (s3s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	if err = s3s.client.MakeBucket(ctx, s3s.bucketName, minio.MakeBucketOptions{}); err != nil {
		// another writer may have created it in between
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", s3s.bucketName, err)
	}
	return nil
}

func (s3s *S3Store) isNotFoundError(err error) bool {
	var errResp minio.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp.Code == "NoSuchKey" || errResp.Code == "NotFound"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
