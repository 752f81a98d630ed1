package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
)

// the client calls used here, narrowed so tests can fake them
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type Clients struct {
	region    string
	s3Client  s3API
	ssmClient ssmAPI
	sqsClient sqsAPI
}

// Init loads the default credential chain for region.
func Init(ctx context.Context, region string) (*Clients, error) {
	if region == "" {
		return nil, errors.New("aws region not present")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "unable to load SDK config")
	}
	log.Infof("AWS clients initialized for %s...", region)
	return &Clients{
		region:    region,
		s3Client:  s3.NewFromConfig(cfg),
		ssmClient: ssm.NewFromConfig(cfg),
		sqsClient: sqs.NewFromConfig(cfg),
	}, nil
}

func (s *Clients) GetParameterFromSSM(ctx context.Context, paramName string) (*ssmtypes.Parameter, error) {
	input := &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: true,
	}
	parameter, err := s.ssmClient.GetParameter(ctx, input)
	if err != nil {
		return nil, errors.WrapAndReport(err, "query parameter from ssm")
	}
	return parameter.Parameter, nil
}

// ProjectID reads the relay project id kept as an encrypted SSM parameter.
func (s *Clients) ProjectID(ctx context.Context, paramName string) (string, error) {
	p, err := s.GetParameterFromSSM(ctx, paramName)
	if err != nil {
		return "", err
	}
	if p == nil || aws.ToString(p.Value) == "" {
		return "", errors.Errorf("ssm parameter %s is empty", paramName)
	}
	return aws.ToString(p.Value), nil
}

func (s *Clients) PutFileToS3(ctx context.Context, bucket, key string, file io.Reader) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/json"),
	}
	_, err := s.s3Client.PutObject(ctx, input)
	return errors.WrapAndReport(err, "put object to s3")
}

// SessionArchiver writes expired sessions to S3 as JSON, one object per
// session under sessions/{yyyy}/{mm}/{dd}/{topic}.json.
type SessionArchiver struct {
	clients *Clients
	bucket  string
	now     func() time.Time
}

func NewSessionArchiver(clients *Clients, bucket string) *SessionArchiver {
	return &SessionArchiver{clients: clients, bucket: bucket, now: time.Now}
}

func archiveKey(topic string, at time.Time) string {
	return fmt.Sprintf("sessions/%s/%s.json", at.UTC().Format("2006/01/02"), topic)
}

func (a *SessionArchiver) Archive(ctx context.Context, session *store.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	return a.clients.PutFileToS3(ctx, a.bucket, archiveKey(session.Topic, a.now()), bytes.NewReader(raw))
}
