package adapter

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/sony/gobreaker"
)

// sesClient is the subset of *sesv2.Client the email adapter depends on,
// so tests can substitute a fake without standing up SES.
type sesClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailAdapter sends alert, reminder, and SOS messages through Amazon SES.
// The MIME structure mirrors notification_worker.go's sendEmail — a plain
// text part plus an HTML part — but goes through the managed API instead
// of raw SMTP, matching the AWS-SDK-first convention the rest of the
// teacher's services (thumbnail-worker-go, s3-signer-go) already use.
type EmailAdapter struct {
	client  sesClient
	from    string
	breaker *gobreaker.CircuitBreaker
}

// NewEmailAdapter constructs an EmailAdapter backed by client, sending From
// the given address. A circuit breaker trips after 5 consecutive failures
// within the default gobreaker interval and stays open for 30s before
// allowing a single trial request through.
func NewEmailAdapter(client sesClient, from string) *EmailAdapter {
	settings := gobreaker.Settings{
		Name:        "ses-email",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &EmailAdapter{
		client:  client,
		from:    from,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Send implements Adapter.
func (a *EmailAdapter) Send(ctx context.Context, address string, msg Message) (Outcome, error) {
	if _, err := mail.ParseAddress(address); err != nil {
		return Outcome{Kind: OutcomeInvalidAddress, Reason: "malformed email address"}, nil
	}

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.client.SendEmail(ctx, &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(a.from),
			Destination:      &types.Destination{ToAddresses: []string{address}},
			Content: &types.EmailContent{
				Simple: &types.Message{
					Subject: &types.Content{Data: aws.String(msg.Subject)},
					Body: &types.Body{
						Text: &types.Content{Data: aws.String(msg.BodyText)},
						Html: &types.Content{Data: aws.String(msg.BodyHTML)},
					},
				},
			},
		})
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return Outcome{Kind: OutcomeTransientFail, Reason: "circuit open"}, err
	}
	if err != nil {
		return classifySESError(err)
	}

	out := result.(*sesv2.SendEmailOutput)
	msgID := ""
	if out.MessageId != nil {
		msgID = *out.MessageId
	}
	log.Printf("[Adapter:email] sent to %s (message_id=%s)", maskAddress(address), msgID)
	return Outcome{Kind: OutcomeSent, ProviderMsgID: msgID}, nil
}

// classifySESError maps an SES error into the engine's closed outcome set.
// Permanent rejections (suppressed address, rejected message content,
// unverified sender domain, suspended account) are terminal; everything
// else is treated as transient and retried by the dispatch worker pool's
// backoff policy.
func classifySESError(err error) (Outcome, error) {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "messagerejected") && strings.Contains(msg, "suppress"):
		return Outcome{Kind: OutcomeInvalidAddress, Reason: "address suppressed"}, err
	case strings.Contains(msg, "messagerejected"):
		return Outcome{Kind: OutcomeProviderReject, Reason: err.Error()}, err
	case strings.Contains(msg, "mailfromdomainnotverifiedexception"),
		strings.Contains(msg, "accountsuspendedexception"):
		return Outcome{Kind: OutcomeProviderReject, Reason: err.Error()}, err
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate exceeded"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"),
		strings.Contains(msg, "5"+"03"), strings.Contains(msg, "internal"):
		return Outcome{Kind: OutcomeTransientFail, Reason: err.Error()}, err
	default:
		return Outcome{Kind: OutcomeTransientFail, Reason: err.Error()}, err
	}
}

// maskAddress masks an email address for logging, showing only the first
// character of the local part.
func maskAddress(address string) string {
	at := strings.IndexByte(address, '@')
	if at <= 0 {
		return "***"
	}
	return fmt.Sprintf("%s***@%s", address[:1], address[at+1:])
}
