// internal/notify/notifier.go
package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"entitlement-workers/internal/common/config"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Confirmation describes a newly created entitlement. It never carries the
// credential secret.
type Confirmation struct {
	Email      string
	Phone      string
	Name       string
	ItemID     int64
	AmountPaid float64
	Currency   string
	Username   string
	Host       string
	Tier       models.CredentialTier
}

// Notifier sends buyer confirmations. Delivery is best-effort: failures are
// logged and reported, never retried here.
type Notifier struct {
	cfg     config.NotificationConfig
	ses     SESService
	sns     SNSService
	logger  logger.Logger
	subject *template.Template
	body    *template.Template
	sms     *template.Template
}

var (
	subjectTemplate = template.Must(template.New("subject").Parse(
		`Your purchase of item #{{.ItemID}} is ready`))

	bodyTemplate = template.Must(template.New("body").Parse(
		`Hello{{if .Name}} {{.Name}}{{end}},

Thank you for your payment of {{printf "%.2f" .AmountPaid}} {{.Currency}}.
{{if eq (print .Tier) "placeholder"}}Your download access is still being prepared. Our team has been notified and will send your login shortly.
{{else}}You can now download your files.

  Username: {{.Username}}
{{if .Host}}  Host:     {{.Host}}
{{end}}
Your password is shown on the confirmation page.
{{end}}`))

	smsTemplate = template.Must(template.New("sms").Parse(
		`Payment received for item #{{.ItemID}}.{{if .Host}} Login {{.Username}} at {{.Host}}.{{end}}`))
)

func NewNotifier(ctx context.Context, cfg config.NotificationConfig, log logger.Logger) (*Notifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewNotifierWithClients(cfg, ses.NewFromConfig(awsCfg), sns.NewFromConfig(awsCfg), log), nil
}

func NewNotifierWithClients(cfg config.NotificationConfig, sesClient SESService, snsClient SNSService, log logger.Logger) *Notifier {
	return &Notifier{
		cfg:     cfg,
		ses:     sesClient,
		sns:     snsClient,
		logger:  log.WithFields(map[string]interface{}{"component": "notifier"}),
		subject: subjectTemplate,
		body:    bodyTemplate,
		sms:     smsTemplate,
	}
}

// SendConfirmation reports whether any channel delivered the message.
func (n *Notifier) SendConfirmation(ctx context.Context, c Confirmation) bool {
	sent := false

	if n.cfg.Email.Enabled && c.Email != "" {
		if err := n.sendEmail(ctx, c); err != nil {
			n.logger.Warn("confirmation email failed", map[string]interface{}{
				"error":  err,
				"itemId": c.ItemID,
			})
		} else {
			sent = true
		}
	}

	if n.cfg.SMS.Enabled && c.Phone != "" {
		if err := n.sendSMS(ctx, c); err != nil {
			n.logger.Warn("confirmation SMS failed", map[string]interface{}{
				"error":  err,
				"itemId": c.ItemID,
			})
		} else {
			sent = true
		}
	}

	return sent
}

func (n *Notifier) sendEmail(ctx context.Context, c Confirmation) error {
	subject, err := render(n.subject, c)
	if err != nil {
		return err
	}
	body, err := render(n.body, c)
	if err != nil {
		return err
	}

	_, err = n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{c.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.cfg.Email.FromEmail),
	})
	return err
}

func (n *Notifier) sendSMS(ctx context.Context, c Confirmation) error {
	msg, err := render(n.sms, c)
	if err != nil {
		return err
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(c.Phone),
		Message:     aws.String(msg),
	}
	if n.cfg.SMS.SenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.cfg.SMS.SenderID),
			},
		}
	}

	_, err = n.sns.Publish(ctx, input)
	return err
}

func render(t *template.Template, c Confirmation) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, c); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
