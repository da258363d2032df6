package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog/log"
)

// SSMAPI is the subset of *ssm.Client used to resolve secrets.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// secret binds a config field to its parameter name under SSM_PREFIX.
type secret struct {
	name  string
	field *string
}

func (c *Config) secrets() []secret {
	return []secret{
		{"pixabay-key", &c.PixabayKey},
		{"freesound-key", &c.FreesoundKey},
		{"telegram-token", &c.TelegramToken},
		{"telegram-chat-id", &c.TelegramChatID},
		{"webhook-url", &c.WebhookURL},
		{"webhook-secret", &c.WebhookSecret},
	}
}

// ResolveSecrets fills secrets that are empty in c from
// <SSMPrefix>/<name>, e.g. /nature-reels/prod/pixabay-key. Parameters that
// do not exist are skipped. It returns the paths that were loaded.
func ResolveSecrets(ctx context.Context, client SSMAPI, c *Config) ([]string, error) {
	if c.SSMPrefix == "" {
		return nil, nil
	}

	var loaded []string
	for _, s := range c.secrets() {
		if *s.field != "" {
			continue
		}
		path := c.SSMPrefix + "/" + s.name

		start := time.Now()
		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(path),
			WithDecryption: aws.Bool(true),
		})
		var notFound *types.ParameterNotFound
		switch {
		case errors.As(err, &notFound):
			log.Debug().Str("param", path).Msg("SSM parameter not found, leaving unset")
			continue
		case err != nil:
			return loaded, fmt.Errorf("read SSM parameter %s: %w", path, err)
		}

		*s.field = aws.ToString(out.Parameter.Value)
		loaded = append(loaded, path)
		log.Debug().Str("param", path).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	}
	return loaded, nil
}
