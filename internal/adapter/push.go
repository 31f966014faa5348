package adapter

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/sony/gobreaker"
)

// fcmClient is the subset of *messaging.Client the push adapter depends on.
type fcmClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushAdapter sends reminder, alert, and SOS pushes through Firebase Cloud
// Messaging. Grounded on the domain-stack signal in
// other_examples/manifests/Musterbox-LLC-notify-service/go.mod, which
// pulls in firebase.google.com/go/v4 for exactly this purpose.
type PushAdapter struct {
	client  fcmClient
	breaker *gobreaker.CircuitBreaker
}

// NewPushAdapter constructs a PushAdapter backed by client.
func NewPushAdapter(client fcmClient) *PushAdapter {
	settings := gobreaker.Settings{
		Name:        "fcm-push",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &PushAdapter{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// pushPayload is the JSON object embedded in the FCM data payload (spec
// section 6): {type, episode_id, title, body}.
type pushPayload struct {
	Type      string `json:"type"`
	EpisodeID string `json:"episode_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

// Send implements Adapter.
func (a *PushAdapter) Send(ctx context.Context, token string, msg Message) (Outcome, error) {
	if strings.TrimSpace(token) == "" {
		return Outcome{Kind: OutcomeInvalidAddress, Reason: "empty push token"}, nil
	}

	payload := pushPayload{
		Type:      msg.PushType,
		EpisodeID: msg.EpisodeID,
		Title:     msg.Title,
		Body:      msg.BodyText,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Kind: OutcomeProviderReject, Reason: "payload encode failure"}, err
	}

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.client.Send(ctx, &messaging.Message{
			Token: token,
			Notification: &messaging.Notification{
				Title: msg.Title,
				Body:  msg.BodyText,
			},
			Data: map[string]string{"payload": string(data)},
		})
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return Outcome{Kind: OutcomeTransientFail, Reason: "circuit open"}, err
	}
	if err != nil {
		return classifyFCMError(err)
	}

	msgID := result.(string)
	log.Printf("[Adapter:push] sent (message_id=%s)", msgID)
	return Outcome{Kind: OutcomeSent, ProviderMsgID: msgID}, nil
}

// classifyFCMError maps an FCM send error into the engine's closed outcome
// set. "registration-token-not-registered" means the device uninstalled
// the app or the token rotated — terminal for this contact+channel pair.
func classifyFCMError(err error) (Outcome, error) {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "registration-token-not-registered"),
		strings.Contains(msg, "invalid registration"):
		return Outcome{Kind: OutcomeInvalidAddress, Reason: err.Error()}, err
	case strings.Contains(msg, "invalid-argument"),
		strings.Contains(msg, "message-rate-exceeded"),
		strings.Contains(msg, "quota-exceeded"):
		return Outcome{Kind: OutcomeProviderReject, Reason: err.Error()}, err
	default:
		return Outcome{Kind: OutcomeTransientFail, Reason: err.Error()}, err
	}
}
