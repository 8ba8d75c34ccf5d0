package clearinghouse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of *sqs.Client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSTransport announces the artifact location on a queue; a downstream
// worker uploads it to the clearinghouse.
type SQSTransport struct {
	client   SQSAPI
	queueURL string
}

func NewSQSTransport(client SQSAPI, queueURL string) *SQSTransport {
	return &SQSTransport{client: client, queueURL: queueURL}
}

type sqsMessage struct {
	ClaimID     string `json:"claim_id"`
	ClaimNumber string `json:"claim_number"`
	Location    string `json:"location"`
	Size        int    `json:"size"`
}

func (t *SQSTransport) Submit(ctx context.Context, s Submission) error {
	body, err := json.Marshal(sqsMessage{
		ClaimID:     s.ClaimID,
		ClaimNumber: s.ClaimNumber,
		Location:    s.Location,
		Size:        len(s.Content),
	})
	if err != nil {
		return fmt.Errorf("clearinghouse: marshal sqs message: %w", err)
	}
	_, err = t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"claim_number": {DataType: aws.String("String"), StringValue: aws.String(s.ClaimNumber)},
		},
	})
	if err != nil {
		return fmt.Errorf("clearinghouse: send sqs message for %s: %w", s.ClaimNumber, err)
	}
	return nil
}
