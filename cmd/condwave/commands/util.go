package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/haivivi/condwave/pkg/autoencoder"
	"github.com/haivivi/condwave/pkg/checkpoint"
	"github.com/haivivi/condwave/pkg/cli"
	"github.com/haivivi/condwave/pkg/features"
	"github.com/haivivi/condwave/pkg/kv"
	"github.com/haivivi/condwave/pkg/storage"
)

// outputResult writes v honoring --json, --query and -o.
func outputResult(v any) error {
	format := cli.FormatYAML
	if outputJSON {
		format = cli.FormatJSON
	}
	return cli.Output(v, cli.OutputOptions{Format: format, File: outputFile, Query: query})
}

// loadRequest reads the -f request file.
func loadRequest() (*features.Request, error) {
	if inputFile == "" {
		return nil, errors.New("request file is required, use -f flag")
	}
	var req features.Request
	if err := cli.LoadRequest(inputFile, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// openRegistry opens the checkpoint index and blob store named by the
// config. The returned func closes the index.
func openRegistry() (*checkpoint.Registry, func() error, error) {
	paths, err := cli.NewPaths()
	if err != nil {
		return nil, nil, err
	}
	sc := globalConfig.Store

	indexDir := sc.Index
	if indexDir == "" {
		indexDir = paths.IndexDir()
	}
	index, err := kv.NewBadger(kv.BadgerOptions{Dir: indexDir})
	if err != nil {
		return nil, nil, err
	}

	var blobs storage.FileStore
	if sc.S3 != nil {
		s := storage.NewS3(newS3Client(sc.S3), sc.S3.Bucket, sc.S3.Prefix)
		s.ContentType = "application/msgpack"
		blobs = s
		slog.Debug("checkpoint blobs in s3", "bucket", sc.S3.Bucket, "prefix", sc.S3.Prefix)
	} else {
		dir := sc.Dir
		if dir == "" {
			dir = paths.BlobDir()
		}
		local, err := storage.NewLocal(dir)
		if err != nil {
			index.Close()
			return nil, nil, err
		}
		blobs = local
		slog.Debug("checkpoint blobs on disk", "dir", local.Root())
	}
	return checkpoint.New(index, blobs), index.Close, nil
}

// newS3Client builds a client from the config section and the standard
// AWS environment variables.
func newS3Client(c *cli.S3Config) *s3.Client {
	region := c.Region
	if region == "" {
		region = "us-east-1"
	}
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "environment",
		}, nil
	})
	opts := s3.Options{
		Region:       region,
		Credentials:  aws.NewCredentialsCache(creds),
		UsePathStyle: c.UsePathStyle,
	}
	if c.Endpoint != "" {
		opts.BaseEndpoint = aws.String(c.Endpoint)
	}
	return s3.New(opts)
}

// loadModel builds the configured model. With --checkpoint the generator
// options and weights come from the checkpoint instead. edit, if non-nil,
// adjusts the model section before the model is built.
func loadModel(ctx context.Context, edit func(*cli.ModelConfig)) (*autoencoder.Model, error) {
	mc := globalConfig.Model
	var weights map[string]autoencoder.Weights
	if checkpointRef != "" {
		reg, closeIndex, err := openRegistry()
		if err != nil {
			return nil, err
		}
		defer closeIndex()
		meta, err := reg.Resolve(ctx, checkpointRef)
		if err != nil {
			return nil, err
		}
		_, weights, err = reg.Load(ctx, meta.ID)
		if err != nil {
			return nil, err
		}
		if o, ok := meta.Options[autoencoder.KeyWavenet]; ok {
			mc.Wavenet = o
		}
		if o, ok := meta.Options[autoencoder.KeyCondWavenet]; ok {
			mc.CondWavenet = o
		}
		mc.UseVAE = meta.UseVAE
		slog.Debug("restoring checkpoint", "id", meta.ID, "name", meta.Name)
	}
	if edit != nil {
		edit(&mc)
	}
	m, err := mc.Build(slog.Default())
	if err != nil {
		return nil, err
	}
	if weights != nil {
		if err := m.Restore(weights); err != nil {
			return nil, fmt.Errorf("restore %s: %w", checkpointRef, err)
		}
	}
	return m, nil
}

// trim cuts row b of a [batch, 1, time] stream to n frames.
func trim(x []float64, b, stride, n int) []float64 {
	return x[b*stride : b*stride+n]
}
