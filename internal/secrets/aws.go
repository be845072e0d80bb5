package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
)

// NewAWSSources builds the Secrets Manager and SSM sources from the default
// credential chain.
func NewAWSSources(region string) (*SecretsManagerSource, *SSMSource, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, nil, fmt.Errorf("aws session: %w", err)
	}
	return &SecretsManagerSource{api: secretsmanager.New(sess)}, &SSMSource{api: ssm.New(sess)}, nil
}

type SecretsManagerSource struct {
	api secretsmanageriface.SecretsManagerAPI
}

func NewSecretsManagerSource(api secretsmanageriface.SecretsManagerAPI) *SecretsManagerSource {
	return &SecretsManagerSource{api: api}
}

func (s *SecretsManagerSource) Name() string { return "aws" }

func (s *SecretsManagerSource) List(ctx context.Context) ([]string, error) {
	var names []string
	err := s.api.ListSecretsPagesWithContext(ctx, &secretsmanager.ListSecretsInput{},
		func(page *secretsmanager.ListSecretsOutput, _ bool) bool {
			for _, e := range page.SecretList {
				names = append(names, aws.StringValue(e.Name))
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *SecretsManagerSource) Get(ctx context.Context, name string) (string, error) {
	out, err := s.api.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == secretsmanager.ErrCodeResourceNotFoundException {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get secret %q: %w", name, err)
	}
	if out.SecretString != nil {
		return aws.StringValue(out.SecretString), nil
	}
	return string(out.SecretBinary), nil
}

type SSMSource struct {
	api ssmiface.SSMAPI
}

func NewSSMSource(api ssmiface.SSMAPI) *SSMSource { return &SSMSource{api: api} }

func (s *SSMSource) Name() string { return "ssm" }

func (s *SSMSource) List(ctx context.Context) ([]string, error) {
	var names []string
	err := s.api.DescribeParametersPagesWithContext(ctx, &ssm.DescribeParametersInput{},
		func(page *ssm.DescribeParametersOutput, _ bool) bool {
			for _, p := range page.Parameters {
				names = append(names, aws.StringValue(p.Name))
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("describe parameters: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *SSMSource) Get(ctx context.Context, name string) (string, error) {
	out, err := s.api.GetParameterWithContext(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == ssm.ErrCodeParameterNotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get parameter %q: %w", name, err)
	}
	return aws.StringValue(out.Parameter.Value), nil
}
