package s3cas

import (
	"context"
	"flag"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"xdao.co/drinkpoap/storage"
	"xdao.co/drinkpoap/storage/casregistry"
)

var (
	flagBucket   string
	flagPrefix   string
	flagRegion   string
	flagEndpoint string
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "s3",
		Description: "S3-compatible object store CAS",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagBucket, "s3-bucket", "", "Bucket name (for --backend=s3)")
			fs.StringVar(&flagPrefix, "s3-prefix", "blocks/", "Object key prefix (for --backend=s3)")
			fs.StringVar(&flagRegion, "s3-region", "", "AWS region; empty uses the default chain")
			fs.StringVar(&flagEndpoint, "s3-endpoint", "", "Custom endpoint URL, e.g. LocalStack or MinIO (path-style)")
		},
		Open: func() (storage.CAS, func() error, error) {
			return Open(context.Background(), Options{
				Bucket: flagBucket, Prefix: flagPrefix, Region: flagRegion, Endpoint: flagEndpoint,
			})
		},
		OpenWithConfig: func(cfg map[string]string) (storage.CAS, func() error, error) {
			prefix, ok := cfg["s3-prefix"]
			if !ok {
				prefix = "blocks/"
			}
			return Open(context.Background(), Options{
				Bucket: cfg["s3-bucket"], Prefix: prefix, Region: cfg["s3-region"], Endpoint: cfg["s3-endpoint"],
			})
		},
	})
}

// Options configures Open.
type Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// Open loads the default AWS config chain and builds a CAS. A non-empty
// Endpoint switches the client to path-style addressing.
func Open(ctx context.Context, opts Options) (storage.CAS, func() error, error) {
	if opts.Bucket == "" {
		return nil, nil, fmt.Errorf("missing --s3-bucket")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("s3cas: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	cas, err := New(client, opts.Bucket, opts.Prefix)
	if err != nil {
		return nil, nil, err
	}
	return cas, nil, nil
}
