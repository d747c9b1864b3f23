package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/ruteri/wallet-recovery-vault/interfaces"
)

// sesAPI is the subset of the SES client used for delivery.
type sesAPI interface {
	SendEmailWithContext(ctx aws.Context, input *ses.SendEmailInput, opts ...request.Option) (*ses.SendEmailOutput, error)
}

// SESConfig configures an SESNotifier.
type SESConfig struct {
	From             string
	Region           string
	ConfigurationSet string
}

// SESNotifier emails guardians through Amazon SES.
type SESNotifier struct {
	client sesAPI
	cfg    SESConfig
	log    *slog.Logger
}

var _ interfaces.GuardianNotifier = (*SESNotifier)(nil)

// NewSESNotifier creates a notifier using the default AWS credential chain.
func NewSESNotifier(cfg SESConfig, log *slog.Logger) (*SESNotifier, error) {
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("ses: sender address is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, fmt.Errorf("ses: failed to create session: %w", err)
	}
	return newSESNotifier(ses.New(sess), cfg, log), nil
}

func newSESNotifier(client sesAPI, cfg SESConfig, log *slog.Logger) *SESNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &SESNotifier{client: client, cfg: cfg, log: log}
}

func (n *SESNotifier) Notify(ctx context.Context, guardianEmail, recoveryID string, nctx interfaces.NotificationContext) error {
	if strings.TrimSpace(guardianEmail) == "" {
		return errors.New("ses: destination required")
	}

	msg := Render(strings.TrimSpace(guardianEmail), recoveryID, nctx)
	input := &ses.SendEmailInput{
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(msg.To)},
		},
		Source: aws.String(n.cfg.From),
		Message: &ses.Message{
			Subject: &ses.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &ses.Body{
				Text: &ses.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
			},
		},
	}
	if cs := strings.TrimSpace(n.cfg.ConfigurationSet); cs != "" {
		input.ConfigurationSetName = aws.String(cs)
	}

	out, err := n.client.SendEmailWithContext(ctx, input)
	if err != nil {
		return fmt.Errorf("ses: send email: %w", err)
	}
	n.log.Debug("Guardian notification sent",
		slog.String("recovery_id", recoveryID),
		slog.String("message_id", aws.StringValue(out.MessageId)))
	return nil
}
