package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
)

// Message is one outbound email handed to a Sender.
type Message struct {
	JobID     string
	LeadID    string
	Email     string
	Name      string
	FromName  string
	FromEmail string
	ReplyTo   string
	Subject   string
	HTMLBody  string
	TextBody  string
	EmailType string
}

// SendResult is the provider's answer to a send attempt. A rejected send is
// Success=false with Error set; transport failures return an error instead.
type SendResult struct {
	Success   bool
	MessageID string
	Error     error
	SentAt    time.Time
}

// Sender delivers a single message through a provider.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// SESSender sends through AWS SES using the SDK v2.
type SESSender struct {
	client *sesv2.Client
	region string
}

// NewSESSender builds an SES sender from static credentials. A nil client
// (missing credentials or config failure) makes every Send fail fast.
func NewSESSender(accessKey, secretKey, region string) *SESSender {
	if region == "" {
		region = "us-east-1"
	}
	sender := &SESSender{region: region}

	if accessKey != "" && secretKey != "" {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		)
		if err != nil {
			log.Printf("[SES] failed to initialize AWS config: %v", err)
		} else {
			sender.client = sesv2.NewFromConfig(cfg)
		}
	}
	return sender
}

// Send delivers one email through SES. Provider rejections come back as an
// unsuccessful result, not an error, so the caller can emit a failed event
// instead of retrying blindly.
func (s *SESSender) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	if s.client == nil {
		return nil, fmt.Errorf("SES client not initialized - check credentials")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("lead_id"), Value: aws.String(msg.LeadID)},
			{Name: aws.String("job_id"), Value: aws.String(msg.JobID)},
		},
	}
	if msg.TextBody != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		log.Printf("[SES] send to %s failed: %v", logger.RedactEmail(msg.Email), err)
		return &SendResult{Success: false, Error: err}, nil
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[SES] sent %q to %s (id: %s)", msg.EmailType, logger.RedactEmail(msg.Email), messageID)

	return &SendResult{Success: true, MessageID: messageID, SentAt: time.Now().UTC()}, nil
}

// LogSender is the dry-run sender used in development: it logs instead of
// delivering and always succeeds.
type LogSender struct{}

// Send logs the message and reports success.
func (LogSender) Send(_ context.Context, msg *Message) (*SendResult, error) {
	log.Printf("[DryRun] would send %q to %s (job %s)",
		msg.EmailType, logger.RedactEmail(msg.Email), msg.JobID)
	return &SendResult{
		Success:   true,
		MessageID: "dryrun-" + msg.JobID,
		SentAt:    time.Now().UTC(),
	}, nil
}
