package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// SESProvider is the limiter and breaker key of the SES transport.
const SESProvider = "ses"

// SESConfig holds Amazon SES settings. Empty keys fall back to the default
// AWS credential chain.
type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	From            string
	FromName        string
	ConfigSet       string
}

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends mail through Amazon SES v2.
type SES struct {
	cfg    SESConfig
	client SESAPI
}

// NewSES loads AWS configuration and creates an SES transport.
func NewSES(ctx context.Context, cfg SESConfig) (*SES, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "ses: load aws config")
	}
	return NewSESWithClient(cfg, sesv2.NewFromConfig(awsCfg)), nil
}

// NewSESWithClient creates an SES transport around an existing client.
func NewSESWithClient(cfg SESConfig, client SESAPI) *SES {
	return &SES{cfg: cfg, client: client}
}

// Provider implements Transport.
func (s *SES) Provider() string { return SESProvider }

// Send implements Transport and returns the SES message id.
func (s *SES) Send(ctx context.Context, msg Message) (string, error) {
	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("idempotency_key"), Value: aws.String(tagValue(msg.IdempotencyKey))},
		},
	}
	if s.cfg.ConfigSet != "" {
		in.ConfigurationSetName = aws.String(s.cfg.ConfigSet)
	}

	out, err := s.client.SendEmail(ctx, in)
	if err != nil {
		return "", classifySES(err)
	}
	if out.MessageId == nil {
		return "", resilience.Permanent(SESProvider, eris.New("ses: response without message id"))
	}
	return aws.ToString(out.MessageId), nil
}

// tagValue maps s onto the characters SES accepts in tag values.
func tagValue(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '-'
	}, s)
}

var sesTransientCodes = map[string]bool{
	"TooManyRequestsException": true,
	"Throttling":               true,
	"ThrottlingException":      true,
	"LimitExceededException":   true,
}

func classifySES(err error) error {
	wrapped := eris.Wrap(err, "ses: send email")
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorFault() == smithy.FaultServer || sesTransientCodes[apiErr.ErrorCode()] {
			return resilience.Transient(SESProvider, wrapped)
		}
		return resilience.Permanent(SESProvider, wrapped)
	}
	if resilience.IsTransient(err) {
		return resilience.Transient(SESProvider, wrapped)
	}
	return resilience.Permanent(SESProvider, wrapped)
}
