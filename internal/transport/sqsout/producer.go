// Package sqsout hands accepted messages to an SQS queue consumed by an
// external gateway fleet. From the dispatcher's point of view a successful
// enqueue is a successful send; delivery from the queue onward is the
// fleet's problem.
package sqsout

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/oklog/ulid/v2"
)

type Producer struct {
	SQS      *sqs.Client
	QueueURL string

	// GroupBuckets spreads FIFO message groups; <=0 uses a default.
	GroupBuckets int
}

type smsJob struct {
	To       string    `json:"to"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queuedAt"`
}

const defaultGroupBuckets = 64

// Send enqueues one message and returns the SQS message id as the remote id.
func (p *Producer) Send(ctx context.Context, recipient, body string) (string, error) {
	payload, err := json.Marshal(smsJob{To: recipient, Body: body, QueuedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(payload)),
	}
	// Group and dedup ids only apply to FIFO queues; a bucketed group keeps
	// per-phone ordering without collapsing all traffic into one group.
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		in.MessageGroupId = str(messageGroupIDBucketed(recipient, p.GroupBuckets))
		in.MessageDeduplicationId = str(newDedupID())
	}

	out, err := p.SQS.SendMessage(ctx, in)
	if err != nil {
		return "", err
	}
	if out.MessageId == nil || *out.MessageId == "" {
		return "", fmt.Errorf("sqs send returned no message id")
	}
	return *out.MessageId, nil
}

func messageGroupIDBucketed(to string, buckets int) string {
	if buckets <= 0 {
		buckets = defaultGroupBuckets
	}
	h := fnv.New32a()
	h.Write([]byte(to))
	return fmt.Sprintf("grp-%d", h.Sum32()%uint32(buckets))
}

func newDedupID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

func str(s string) *string { return &s }
