package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/mailblast/internal/config"
)

// SES delivers mail through AWS SES v2.
type SES struct {
	client    *sesv2.Client
	fromName  string
	fromEmail string
}

// NewSES creates an SES transport. Static credentials from config take
// precedence; with none set the default AWS credential chain applies.
func NewSES(ctx context.Context, cfg config.TransportConfig) (*SES, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.SESRegion),
	}
	if cfg.SESAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.SESAccessKey, cfg.SESSecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SES{
		client:    sesv2.NewFromConfig(awsCfg),
		fromName:  cfg.FromName,
		fromEmail: cfg.FromEmail,
	}, nil
}

func (s *SES) Name() string { return "ses" }

// Send delivers one message via the SES v2 SendEmail API.
func (s *SES) Send(ctx context.Context, msg Message) error {
	from := s.fromEmail
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}
	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", msg.ToName, msg.To)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.Body)},
				},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		var badReq *types.BadRequestException
		var notFound *types.NotFoundException
		if errors.As(err, &badReq) || errors.As(err, &notFound) {
			return &SendError{Reason: err.Error(), Permanent: true}
		}
		return &SendError{Reason: err.Error(), Permanent: false}
	}
	return nil
}
