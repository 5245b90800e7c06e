package storyboard

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/richinsley/autoboard/internal/log"
	"github.com/samber/do"
)

type UploadParams struct {
	Name        string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

// FileUploader writes panels below Dir.
type FileUploader struct {
	Dir string
}

func (u *FileUploader) Upload(ctx context.Context, params UploadParams) error {
	name := filepath.Join(u.Dir, params.Name)
	log.FromContextOrDiscard(ctx).Info("writing panel", "file", name)

	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	return os.WriteFile(name, params.Data, 0o644)
}

// PutObjectAPI is the part of *s3.Client the S3 uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Uploader struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
}

func NewS3Uploader(i *do.Injector) (*S3Uploader, error) {
	client := do.MustInvoke[*s3.Client](i)
	bucket := do.MustInvokeNamed[string](i, "export_bucket")
	return &S3Uploader{Client: client, Bucket: bucket}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, params UploadParams) error {
	key := path.Join(u.Prefix, params.Name)
	log.FromContextOrDiscard(ctx).Info("uploading panel to s3",
		"bucket", u.Bucket,
		"key", key,
		"content-type", params.ContentType,
	)

	_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(params.ContentType),
		Body:        bytes.NewReader(params.Data),
		Metadata:    params.Metadata,
	})
	return err
}
