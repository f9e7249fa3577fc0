package campaign

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/makerloom/stitchpress/internal/config"
)

// sesAPI is the slice of the SES client the mailer uses. Tests substitute a
// fake; *sesv2.Client satisfies it.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Message is one campaign email, fully personalized and ready to send.
type Message struct {
	To             string
	Subject        string
	HTMLBody       string
	TextBody       string
	UnsubscribeURL string
	CorrelationID  string
}

// Mailer delivers campaign mail through SES.
type Mailer struct {
	client sesAPI
	sender string
}

// NewMailer builds a mailer from the campaign configuration. Explicit
// credentials take precedence; otherwise the default chain applies.
func NewMailer(ctx context.Context, cfg config.CampaignConfig) (*Mailer, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewMailerWithClient(sesv2.NewFromConfig(awsCfg), cfg.Sender), nil
}

// NewMailerWithClient wires a mailer onto an existing client. Tests use this.
func NewMailerWithClient(client sesAPI, sender string) *Mailer {
	return &Mailer{client: client, sender: sender}
}

// Send delivers one message and returns the SES message id. Messages with an
// unsubscribe URL go out as raw MIME so the one-click headers survive;
// everything else takes the simple content path.
func (m *Mailer) Send(ctx context.Context, msg *Message) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.sender),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
	}

	if msg.UnsubscribeURL != "" {
		raw, err := buildRawMessage(m.sender, msg)
		if err != nil {
			return "", fmt.Errorf("assembling message: %w", err)
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
	} else {
		simple := &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
			},
		}
		if msg.TextBody != "" {
			simple.Body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
		}
		input.Content = &types.EmailContent{Simple: simple}
		if msg.CorrelationID != "" {
			input.EmailTags = []types.MessageTag{
				{Name: aws.String("correlation_id"), Value: aws.String(msg.CorrelationID)},
			}
		}
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

// buildRawMessage assembles a multipart/alternative MIME message carrying
// the List-Unsubscribe headers. SES ignores EmailTags on raw content, so the
// correlation id rides in the X-SES-MESSAGE-TAGS header instead.
func buildRawMessage(from string, msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []struct{ key, value string }{
		{"From", from},
		{"To", msg.To},
		{"Subject", mime.QEncoding.Encode("UTF-8", msg.Subject)},
		{"MIME-Version", "1.0"},
		{"List-Unsubscribe", fmt.Sprintf("<%s>", msg.UnsubscribeURL)},
		{"List-Unsubscribe-Post", "List-Unsubscribe=One-Click"},
	}
	if msg.CorrelationID != "" {
		headers = append(headers, struct{ key, value string }{
			"X-SES-MESSAGE-TAGS", "correlation_id=" + msg.CorrelationID,
		})
	}
	headers = append(headers, struct{ key, value string }{
		"Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()),
	})
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.key, h.value)
	}
	buf.WriteString("\r\n")

	parts := []struct{ contentType, body string }{}
	if msg.TextBody != "" {
		parts = append(parts, struct{ contentType, body string }{"text/plain; charset=UTF-8", msg.TextBody})
	}
	parts = append(parts, struct{ contentType, body string }{"text/html; charset=UTF-8", msg.HTMLBody})

	for _, p := range parts {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
