package inject

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/richinsley/autoboard/client"
	"github.com/richinsley/autoboard/config"
	"github.com/richinsley/autoboard/internal/log"
	"github.com/richinsley/autoboard/storyboard"
	"github.com/samber/do"
)

// Setup wires the services built from cfg. AWS configuration is only
// loaded when an export bucket is configured and an export is requested.
func Setup(ctx context.Context, cfg *config.Config) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.ProvideValue[*config.Config](injector, cfg)
	do.ProvideValue[*http.Client](injector, &http.Client{})

	do.Provide[*client.Client](injector, func(i *do.Injector) (*client.Client, error) {
		opts := append(cfg.ClientOptions(), client.WithHTTPClient(do.MustInvoke[*http.Client](i)))
		return client.NewClient(cfg.BackendURL, opts...), nil
	})

	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideNamedValue[string](injector, "export_bucket", cfg.ExportBucket)

	do.Provide[storyboard.Uploader](injector, func(i *do.Injector) (storyboard.Uploader, error) {
		if cfg.ExportBucket != "" {
			return storyboard.NewS3Uploader(i)
		}
		return &storyboard.FileUploader{Dir: cfg.ExportDir}, nil
	})
	do.Provide[*storyboard.Generator](injector, storyboard.NewGenerator)
	do.Provide[*storyboard.Exporter](injector, storyboard.NewExporter)

	return injector
}
