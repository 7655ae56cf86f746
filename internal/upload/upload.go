// Package upload pushes finalized artifacts to an S3-compatible bucket.
// The whole stage is optional: incomplete cloud configuration disables it
// instead of failing the run.
package upload

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"droidship/internal/config"
	"droidship/internal/domain"
	"droidship/internal/runlog"
)

// ObjectStore is the slice of the minio client the uploader needs.
type ObjectStore interface {
	FPutObject(ctx context.Context, bucket, key, path string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// Uploader copies aligned artifacts into the configured bucket under
// {packageID}/{version}/{filename}.
type Uploader struct {
	Config *config.Config
	Store  ObjectStore
	Log    *runlog.Logger
}

// New builds an exec-ready uploader; call only when cfg.CloudEnabled().
func New(cfg *config.Config, log *runlog.Logger) (*Uploader, error) {
	client, err := minio.New(cfg.CloudEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.CloudAccessKey, cfg.CloudSecretKey, ""),
		Secure: cfg.CloudUseSSL,
		Region: cfg.CloudRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return &Uploader{Config: cfg, Store: client, Log: log}, nil
}

// Upload pushes one aligned artifact. Only aligned artifacts are accepted.
func (u *Uploader) Upload(ctx context.Context, a domain.BuildArtifact) error {
	if a.State != domain.StateAligned {
		return fmt.Errorf("refusing to upload %s artifact in state %q", a.Kind, a.State)
	}
	ok, err := u.Store.BucketExists(ctx, u.Config.CloudBucket)
	if err != nil {
		return fmt.Errorf("bucket check: %w", err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", u.Config.CloudBucket)
	}

	key := fmt.Sprintf("%s/%s/%s", u.Config.PackageID, a.Version, filepath.Base(a.Path))
	contentType := "application/vnd.android.package-archive"
	if a.Kind == domain.ArtifactBundle {
		contentType = "application/octet-stream"
	}
	if _, err := u.Store.FPutObject(ctx, u.Config.CloudBucket, key, a.Path,
		minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	u.Log.Success("uploaded %s to s3://%s/%s", a.Kind, u.Config.CloudBucket, key)
	return nil
}
