package filehost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/pkgmirror/config"
	"github.com/stupid-simple/pkgmirror/database"
	"github.com/stupid-simple/pkgmirror/fileutils"
)

type objectStore interface {
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// S3Host stores blobs in an S3 compatible bucket at
// {key_prefix}{hash}{key_suffix}. File ids are object keys, and a file
// record maps every uploaded hash to its key.
type S3Host struct {
	client  objectStore
	records FileRecords
	cfg     config.S3HostConfig
	cdnURL  *url.URL
	logger  zerolog.Logger
}

var _ FileHost = (*S3Host)(nil)

func NewS3Host(cfg config.S3HostConfig, records FileRecords, logger zerolog.Logger) (*S3Host, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client failed: %w", err)
	}
	return newS3Host(client, cfg, records, logger)
}

func newS3Host(client objectStore, cfg config.S3HostConfig, records FileRecords, logger zerolog.Logger) (*S3Host, error) {
	h := &S3Host{
		client:  client,
		records: records,
		cfg:     cfg,
		logger:  logger.With().Str("bucket", cfg.Bucket).Logger(),
	}
	if cfg.PublicAccess {
		u, err := url.Parse(cfg.CDNURL)
		if err != nil {
			return nil, fmt.Errorf("invalid cdn url: %w", err)
		}
		h.cdnURL = u
	}
	if h.cfg.PresignedExpiry.Duration <= 0 {
		h.cfg.PresignedExpiry.Duration = config.DefaultPresignedExpiry
	}
	return h, nil
}

func (h *S3Host) key(hash string) string {
	return h.cfg.KeyPrefix + hash + h.cfg.KeySuffix
}

// Put uploads the file unless an object with the same content key is already
// stored, then records the hash. The record is written only after the upload
// succeeded.
func (h *S3Host) Put(ctx context.Context, sourcePath, name string) (string, error) {
	hash, err := fileutils.SHA256File(sourcePath)
	if err != nil {
		return "", err
	}
	key := h.key(hash)

	exists, err := h.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		_, err := h.client.FPutObject(ctx, h.cfg.Bucket, key, sourcePath, minio.PutObjectOptions{
			ContentType:        "application/zip",
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", safeName(name)),
		})
		if err != nil {
			return "", fmt.Errorf("upload %s failed: %w", key, err)
		}
		h.logger.Debug().Str("key", key).Str("name", name).Msg("uploaded file")
	}

	if err := h.records.RecordFile(ctx, hash, key); err != nil {
		return "", fmt.Errorf("could not record file %s: %w", key, err)
	}
	return key, nil
}

func (h *S3Host) ResolveURI(ctx context.Context, fileID string) (string, error) {
	ok, err := h.Exists(ctx, fileID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}

	if h.cdnURL != nil {
		return h.cdnURL.JoinPath(fileID).String(), nil
	}
	u, err := h.client.PresignedGetObject(ctx, h.cfg.Bucket, fileID, h.cfg.PresignedExpiry.Duration, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s failed: %w", fileID, err)
	}
	return u.String(), nil
}

// LookupByHash consults the file records, then the object derived from the
// hash. A record whose object has been removed is replaced when the derived
// object exists.
func (h *S3Host) LookupByHash(ctx context.Context, hash string) (string, bool, error) {
	hash = fileutils.NormalizeHash(hash)
	if !fileutils.ValidSHA256(hash) {
		return "", false, nil
	}

	rec, err := h.records.FindFileRecord(ctx, hash)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return "", false, err
	default:
		ok, err := h.Exists(ctx, rec.Key)
		if err != nil {
			return "", false, err
		}
		if ok {
			return rec.Key, true, nil
		}
		h.logger.Warn().Str("hash", rec.Hash).Str("key", rec.Key).Msg("file record points to a missing object")
	}

	key := h.key(hash)
	if rec != nil && rec.Key == key {
		return "", false, nil
	}
	ok, err := h.Exists(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	if err := h.records.RecordFile(ctx, hash, key); err != nil {
		return "", false, fmt.Errorf("could not record file %s: %w", key, err)
	}
	h.logger.Info().Str("hash", hash).Str("key", key).Msg("recorded stored object")
	return key, true, nil
}

func (h *S3Host) Exists(ctx context.Context, fileID string) (bool, error) {
	if fileID == "" {
		return false, nil
	}
	_, err := h.client.StatObject(ctx, h.cfg.Bucket, fileID, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("stat %s failed: %w", fileID, err)
}
