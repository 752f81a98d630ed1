package aws

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"moff.io/walletconnect-sign/internal/config"
	"moff.io/walletconnect-sign/internal/database"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
)

const defaultMaxTry = 3

func (s *Clients) MultiTrySendMessageToSQS(ctx context.Context, queueUrl, message string, maxTry int) error {
	for i := 0; i < maxTry; i++ {
		_, err := s.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(queueUrl),
			MessageBody: aws.String(message),
		})
		if err != nil {
			if ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}
			log.Error(errors.WrapfAndReport(err, "send sqs message to %s", queueUrl))
			continue
		}
		return nil
	}
	return errors.ErrorfAndReport("send sqs message to %s max try exceeded", queueUrl)
}

// EventForwarder pushes lifecycle events to an SQS queue for consumers
// outside this process.
type EventForwarder struct {
	clients  *Clients
	queueURL string
	maxTry   int
}

func NewEventForwarder(clients *Clients, queueURL string) *EventForwarder {
	return &EventForwarder{clients: clients, queueURL: queueURL, maxTry: defaultMaxTry}
}

// Apply takes the queue from the aws config when none was given.
func (f *EventForwarder) Apply(conf *config.Configuration) {
	if f.queueURL == "" {
		f.queueURL = conf.Aws.EventsQueueURL
	}
}

func (f *EventForwarder) Start(context.Context) error {
	if f.queueURL == "" {
		return errors.New("events queue url not present")
	}
	// 获取队列名称
	name := f.queueURL[strings.LastIndex(f.queueURL, "/")+1:]
	log.Infof("Forwarding lifecycle events to queue %v...", name)
	return nil
}

func (f *EventForwarder) Save(ctx context.Context, e *database.LifecycleEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode lifecycle event")
	}
	return f.clients.MultiTrySendMessageToSQS(ctx, f.queueURL, string(body), f.maxTry)
}
