package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioClient реализует FileStorage поверх бакета MinIO (S3-совместимого).
// Пути Layout используются как ключи объектов.
type MinioClient struct {
	client     *minio.Client
	bucketName string
	log        *zap.Logger
}

// MinioConfig содержит параметры подключения к MinIO.
type MinioConfig struct {
	Endpoint        string // Например, "localhost:9000"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
}

// NewMinioClient создает клиент MinIO и проверяет, что бакет существует.
// CDN только читает, поэтому отсутствующий бакет - ошибка, а не повод его создать.
func NewMinioClient(ctx context.Context, cfg MinioConfig, log *zap.Logger) (*MinioClient, error) {
	log.Info("initializing MinIO client", zap.String("endpoint", cfg.Endpoint))

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("MinIO client initialization failed: %w", err)
	}

	exists, err := minioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("checking bucket '%s': %w", cfg.BucketName, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket '%s' does not exist", cfg.BucketName)
	}

	log.Info("MinIO client ready", zap.String("bucket", cfg.BucketName))
	return &MinioClient{
		client:     minioClient,
		bucketName: cfg.BucketName,
		log:        log,
	}, nil
}

// Exists проверяет, есть ли объект с ключом key.
func (c *MinioClient) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.StatObject(ctx, c.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object '%s': %w", key, err)
	}
	return true, nil
}

// Open возвращает объект по ключу key. minio.Object загружается лениво и поддерживает Seek.
func (c *MinioClient) Open(ctx context.Context, key string) (io.ReadSeekCloser, ObjectInfo, error) {
	object, err := c.client.GetObject(ctx, c.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("get object '%s': %w", key, err)
	}

	// GetObject не обращается к серверу, отсутствие ключа выявляет Stat
	stat, err := object.Stat()
	if err != nil {
		_ = object.Close()
		if isNoSuchKey(err) {
			c.log.Debug("object not found", zap.String("key", key))
			return nil, ObjectInfo{}, ErrObjectNotFound
		}
		return nil, ObjectInfo{}, fmt.Errorf("stat object '%s': %w", key, err)
	}

	return object, ObjectInfo{Size: stat.Size, ModTime: stat.LastModified}, nil
}

func isNoSuchKey(err error) bool {
	var minioErr minio.ErrorResponse
	return errors.As(err, &minioErr) && minioErr.Code == "NoSuchKey"
}
