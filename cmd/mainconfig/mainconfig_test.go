package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/storefront-booking/internal/config"
	"github.com/wolfman30/storefront-booking/internal/notify"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		AWSRegion:           "us-east-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)

	resolver := awsCfg.EndpointResolverWithOptions
	require.NotNil(t, resolver)
	ep, err := resolver.ResolveEndpoint(sqs.ServiceID, "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4566", ep.URL)
	ep, err = resolver.ResolveEndpoint(s3.ServiceID, "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4566", ep.URL)

	_, err = resolver.ResolveEndpoint("dynamodb", "us-east-1")
	var notFound *aws.EndpointNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestBuildEmailSender(t *testing.T) {
	logger := logging.New("error")

	sender := BuildEmailSender(nil, &appconfig.Config{EmailProvider: "sendgrid", SendGridAPIKey: "SG.test", EmailFrom: "shop@example.com"}, logger)
	assert.IsType(t, &notify.SendGridSender{}, sender)

	sender = BuildEmailSender(nil, &appconfig.Config{EmailProvider: "sendgrid"}, logger)
	assert.IsType(t, &notify.StubEmailSender{}, sender)

	sender = BuildEmailSender(nil, &appconfig.Config{EmailProvider: "ses"}, logger)
	assert.IsType(t, &notify.StubEmailSender{}, sender)

	awsCfg := aws.Config{Region: "us-east-1"}
	sender = BuildEmailSender(&awsCfg, &appconfig.Config{EmailProvider: "ses", EmailFrom: "shop@example.com"}, logger)
	assert.IsType(t, &notify.SESSender{}, sender)

	sender = BuildEmailSender(nil, &appconfig.Config{EmailProvider: "none"}, logger)
	assert.IsType(t, &notify.StubEmailSender{}, sender)
}
