package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

type ssmAPI interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMSecretLoader fills credentials from SSM Parameter Store
type SSMSecretLoader struct {
	client ssmAPI
	prefix string
}

// NewSSMSecretLoader creates a loader using the default AWS credential chain
func NewSSMSecretLoader(ctx context.Context, prefix string) (*SSMSecretLoader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SSMSecretLoader{
		client: ssm.NewFromConfig(cfg),
		prefix: strings.TrimSuffix(prefix, "/"),
	}, nil
}

// Apply reads the credential parameters under the prefix and copies every
// one that is present into cfg. Values already set in cfg are overwritten;
// parameters missing from the store are left alone.
func (l *SSMSecretLoader) Apply(ctx context.Context, cfg *Config) error {
	targets := map[string]*string{
		"/bluesky/handle":        &cfg.Bluesky.Handle,
		"/bluesky/password":      &cfg.Bluesky.Password,
		"/twitter/api_key":       &cfg.Twitter.APIKey,
		"/twitter/api_secret":    &cfg.Twitter.APISecret,
		"/twitter/access_token":  &cfg.Twitter.AccessToken,
		"/twitter/access_secret": &cfg.Twitter.AccessSecret,
	}

	names := make([]string, 0, len(targets))
	for suffix := range targets {
		names = append(names, l.prefix+suffix)
	}

	result, err := l.client.GetParameters(ctx, &ssm.GetParametersInput{
		Names:          names,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to get parameters under %s: %w", l.prefix, err)
	}

	for _, param := range result.Parameters {
		if param.Name == nil || param.Value == nil {
			continue
		}
		if dst, ok := targets[strings.TrimPrefix(*param.Name, l.prefix)]; ok {
			*dst = *param.Value
		}
	}

	return nil
}
