package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"billnotif/internal/alert"
	"billnotif/internal/util"
)

// SendAPI is the part of *sqs.Client the producer needs.
type SendAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AlertProducer publishes critical alerts to an ops queue.
type AlertProducer struct {
	SQS      SendAPI
	QueueURL string
	// Source identifies this dispatcher instance in the message group.
	Source string
}

type AlertMessage struct {
	ID     string      `json:"id"`
	Source string      `json:"source"`
	Alert  alert.Alert `json:"alert"`
}

func (p *AlertProducer) NotifyCritical(ctx context.Context, a alert.Alert) error {
	msg := AlertMessage{ID: util.NewMessageID(), Source: p.source(), Alert: a}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	}
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		in.MessageGroupId = str(fmt.Sprintf("%s:%s", p.source(), a.Kind)) // FIFO ordering per instance and kind
		in.MessageDeduplicationId = str(msg.ID)
	}
	if _, err := p.SQS.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs send alert: %w", err)
	}
	return nil
}

func (p *AlertProducer) source() string {
	if p.Source == "" {
		return "dispatcher"
	}
	return p.Source
}

func str(s string) *string { return &s }
