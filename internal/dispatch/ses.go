package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESGateway sends email through AWS SES v2.
type SESGateway struct {
	client sesAPI
	// configurationSet is optional; it enables SES event publishing.
	configurationSet string
}

type SESConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ConfigurationSet string
}

// NewSESGateway builds an SES client. Static credentials are used when both keys are set,
// otherwise the default AWS credential chain applies.
func NewSESGateway(ctx context.Context, cfg SESConfig) (*SESGateway, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dispatch: load aws config: %w", err)
	}
	return &SESGateway{client: sesv2.NewFromConfig(awsCfg), configurationSet: cfg.ConfigurationSet}, nil
}

func (g *SESGateway) SendEmail(ctx context.Context, msg Email) (Receipt, error) {
	if g.client == nil {
		return Receipt{}, errors.New("ses client not initialized")
	}
	from := msg.FromAddress
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromAddress)
	}
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if g.configurationSet != "" {
		in.ConfigurationSetName = aws.String(g.configurationSet)
	}

	out, err := g.client.SendEmail(ctx, in)
	if err != nil {
		return Receipt{}, &GatewayError{Provider: "ses", Message: err.Error()}
	}
	return Receipt{
		ProviderMessageID: aws.ToString(out.MessageId),
		Status:            "accepted",
		Extra:             ExtraInfo{"provider": "ses"},
	}, nil
}
