// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package awskms adapts AWS KMS's GenerateDataKey/Decrypt operations to
// the internal/encryption.KeyManagementService contract.
package awskms

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"

	"github.com/kroxylicious/kroxylicious-go/internal/encryption"
)

type kmsAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Config configures the AWS KMS adapter. Endpoint allows pointing at a
// local KMS-compatible emulator for tests.
type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// TopicKekAliases maps topic name to the KMS key alias or ARN used
	// as its KEK, resolved by Client.ResolveKekID.
	TopicKekAliases map[string]string
	DefaultKekID    string
}

// Client is the AWS-backed KeyManagementService implementation.
type Client struct {
	api kmsAPI
	cfg Config
}

var _ encryption.KeyManagementService = (*Client)(nil)

// NewClient builds a Client from cfg, loading AWS credentials and
// region through the SDK's default config chain, with static
// credentials and a custom endpoint applied when cfg sets them.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Region == "" {
		return nil, errors.New("awskms: region required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	if cfg.Endpoint != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if service == kms.ServiceID {
				return aws.Endpoint{
					URL:           cfg.Endpoint,
					PartitionID:   "aws",
					SigningRegion: cfg.Region,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(customResolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("awskms: load aws config: %w", err)
	}

	return newClientWithAPI(kms.NewFromConfig(awsCfg), cfg), nil
}

func newClientWithAPI(api kmsAPI, cfg Config) *Client {
	return &Client{api: api, cfg: cfg}
}

// GenerateDekPair asks KMS for a new data key under kekID, returning
// the plaintext DEK and its KMS-wrapped ciphertext as the EDEK.
func (c *Client) GenerateDekPair(ctx context.Context, kekID string) (encryption.DEK, encryption.EDEK, error) {
	out, err := c.api.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(kekID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return encryption.DEK{}, nil, fmt.Errorf("awskms: generate data key under %s: %w", kekID, classify(err))
	}
	if len(out.Plaintext) != 32 {
		return encryption.DEK{}, nil, fmt.Errorf("awskms: unexpected plaintext key length %d", len(out.Plaintext))
	}
	var dek encryption.DEK
	copy(dek.Key[:], out.Plaintext)
	return dek, encryption.EDEK(out.CiphertextBlob), nil
}

// DecryptEdek asks KMS to unwrap edek back to its plaintext DEK. AWS
// KMS identifies the key from the ciphertext itself, so no kekID is
// needed on this path.
func (c *Client) DecryptEdek(ctx context.Context, edek encryption.EDEK) (encryption.DEK, error) {
	out, err := c.api.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: edek,
	})
	if err != nil {
		return encryption.DEK{}, fmt.Errorf("awskms: decrypt edek: %w", classify(err))
	}
	if len(out.Plaintext) != 32 {
		return encryption.DEK{}, fmt.Errorf("awskms: unexpected plaintext key length %d", len(out.Plaintext))
	}
	var dek encryption.DEK
	copy(dek.Key[:], out.Plaintext)
	return dek, nil
}

// classify annotates KMS failures with the service-reported error code
// so operators can tell a throttling failure from a key-policy one
// without digging through the full SDK error chain.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)
	}
	return err
}

// ResolveKekID maps a topic to its configured KEK alias/ARN, falling
// back to DefaultKekID when the topic has no specific mapping.
func (c *Client) ResolveKekID(ctx context.Context, topic string) (string, error) {
	if kekID, ok := c.cfg.TopicKekAliases[topic]; ok {
		return kekID, nil
	}
	if c.cfg.DefaultKekID != "" {
		return c.cfg.DefaultKekID, nil
	}
	return "", fmt.Errorf("awskms: no kek configured for topic %q", topic)
}
