package adapter

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

type fakeSESClient struct {
	sendFn func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

func (f *fakeSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	return f.sendFn(ctx, params, optFns...)
}

func TestEmailAdapterSent(t *testing.T) {
	fake := &fakeSESClient{sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
		return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
	}}
	a := NewEmailAdapter(fake, "alerts@solocheck.example")
	out, err := a.Send(context.Background(), "contact@example.com", Message{Subject: "hi", BodyText: "body", BodyHTML: "<p>body</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out.Kind != OutcomeSent || out.ProviderMsgID != "msg-1" {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestEmailAdapterInvalidAddress(t *testing.T) {
	a := NewEmailAdapter(&fakeSESClient{}, "alerts@solocheck.example")
	out, _ := a.Send(context.Background(), "not-an-email", Message{})
	if out.Kind != OutcomeInvalidAddress {
		t.Errorf("expected InvalidAddress, got %+v", out)
	}
}

func TestEmailAdapterTransientFailRetriesViaClassification(t *testing.T) {
	fake := &fakeSESClient{sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
		return nil, errors.New("connection reset: throttling exception")
	}}
	a := NewEmailAdapter(fake, "alerts@solocheck.example")
	out, err := a.Send(context.Background(), "contact@example.com", Message{})
	if err == nil {
		t.Fatal("expected error")
	}
	if out.Kind != OutcomeTransientFail {
		t.Errorf("expected TransientFail, got %+v", out)
	}
}

type fakeFCMClient struct {
	sendFn func(ctx context.Context, message *messaging.Message) (string, error)
}

func (f *fakeFCMClient) Send(ctx context.Context, message *messaging.Message) (string, error) {
	return f.sendFn(ctx, message)
}

func TestPushAdapterSent(t *testing.T) {
	fake := &fakeFCMClient{sendFn: func(ctx context.Context, message *messaging.Message) (string, error) {
		return "projects/x/messages/1", nil
	}}
	a := NewPushAdapter(fake)
	out, err := a.Send(context.Background(), "device-token", Message{PushType: "alert", EpisodeID: "ep1", Title: "t", BodyText: "b"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out.Kind != OutcomeSent {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestPushAdapterInvalidToken(t *testing.T) {
	fake := &fakeFCMClient{sendFn: func(ctx context.Context, message *messaging.Message) (string, error) {
		return "", errors.New("registration-token-not-registered")
	}}
	a := NewPushAdapter(fake)
	out, _ := a.Send(context.Background(), "stale-token", Message{})
	if out.Kind != OutcomeInvalidAddress {
		t.Errorf("expected InvalidAddress, got %+v", out)
	}
}

func TestPushAdapterEmptyToken(t *testing.T) {
	a := NewPushAdapter(&fakeFCMClient{})
	out, _ := a.Send(context.Background(), "", Message{})
	if out.Kind != OutcomeInvalidAddress {
		t.Errorf("expected InvalidAddress for empty token, got %+v", out)
	}
}
