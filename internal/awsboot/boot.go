// Package awsboot turns a config.Config into the concrete AWS clients,
// history backend and uploader a run needs. Both the CLI and the Lambda
// entry point compose their setup from these helpers.
package awsboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nature-reels/internal/config"
	"github.com/fpang/nature-reels/internal/history"
	"github.com/fpang/nature-reels/internal/logging"
	"github.com/fpang/nature-reels/internal/upload"
)

// Clients holds the AWS SDK clients. Nil when no component needs AWS.
type Clients struct {
	Config    aws.Config
	SSM       *ssm.Client
	S3        *s3.Client
	Presigner *s3.PresignClient
	Dynamo    *dynamodb.Client
}

// Init loads the default AWS config when cfg needs it and returns nil
// otherwise, so local file-only runs never touch credentials.
func Init(ctx context.Context, cfg config.Config) (*Clients, error) {
	if !cfg.NeedsAWS() {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", awsCfg.Region).Msg("AWS config loaded")

	s3Client := s3.NewFromConfig(awsCfg)
	return &Clients{
		Config:    awsCfg,
		SSM:       ssm.NewFromConfig(awsCfg),
		S3:        s3Client,
		Presigner: s3.NewPresignClient(s3Client),
		Dynamo:    dynamodb.NewFromConfig(awsCfg),
	}, nil
}

// ResolveSecrets fills missing secrets from SSM and registers the loaded
// parameter paths with the startup logger.
func ResolveSecrets(ctx context.Context, c *Clients, cfg *config.Config, sl *logging.StartupLogger) error {
	if c == nil || cfg.SSMPrefix == "" {
		return nil
	}
	start := time.Now()
	loaded, err := config.ResolveSecrets(ctx, c.SSM, cfg)
	if err != nil {
		return err
	}
	for _, p := range loaded {
		sl.SSMParam(p[len(cfg.SSMPrefix)+1:], p)
	}
	log.Debug().Int("params", len(loaded)).Dur("elapsed", time.Since(start)).Msg("SSM secrets resolved")
	return nil
}

// HistoryDefaults names the history a pipeline uses when the config leaves
// the backend or file unset.
type HistoryDefaults struct {
	Name    string // history name, the DynamoDB partition and S3 key suffix
	Backend string // config.BackendFile or config.BackendJSON
	File    string
}

// HistoryBackend selects the history backend for a pipeline.
func HistoryBackend(c *Clients, cfg config.Config, d HistoryDefaults, sl *logging.StartupLogger) (history.Backend, error) {
	kind := cfg.HistoryBackend
	if kind == "" {
		kind = d.Backend
	}
	path := cfg.HistoryFile
	if path == "" {
		path = d.File
	}

	switch kind {
	case config.BackendFile:
		sl.Config("historyFile", path)
		return history.NewLineFile(path), nil
	case config.BackendJSON:
		sl.Config("historyFile", path)
		return history.NewJSONFile(path), nil
	case config.BackendDynamo:
		if c == nil {
			return nil, fmt.Errorf("dynamodb history backend requires AWS clients")
		}
		sl.DynamoTable("history", cfg.HistoryTable)
		return history.NewDynamoBackend(c.Dynamo, cfg.HistoryTable, d.Name), nil
	case config.BackendS3:
		if c == nil {
			return nil, fmt.Errorf("s3 history backend requires AWS clients")
		}
		key := cfg.HistoryKey
		if cfg.HistoryKey == config.DefaultHistoryKey {
			key = "history/" + d.Name + ".json"
		}
		sl.S3Bucket("history", cfg.HistoryBucket).Config("historyKey", key)
		return history.NewS3Backend(c.S3, cfg.HistoryBucket, key), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", kind)
	}
}

// Uploader selects where rendered reels are published.
func Uploader(c *Clients, cfg config.Config, sl *logging.StartupLogger) (upload.Uploader, error) {
	switch cfg.UploadTarget {
	case config.UploadS3:
		if c == nil {
			return nil, fmt.Errorf("s3 upload target requires AWS clients")
		}
		sl.S3Bucket("uploads", cfg.UploadBucket)
		return upload.NewS3(c.S3, c.Presigner, cfg.UploadBucket, ""), nil
	default:
		sl.Config("uploadTarget", config.UploadCatbox)
		return upload.NewCatbox(), nil
	}
}
