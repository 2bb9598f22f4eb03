package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/iot-device-provisioning/interfaces"
)

// S3Sink implements a sink using Amazon S3 or compatible services.
// Each artifact is an independent object under <prefix>/; there is no multi-object
// transaction, so a failure may leave some objects written.
type S3Sink struct {
	client      s3iface.S3API
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Sink creates an S3 sink. An empty prefix means objects are keyed by device name.
func NewS3Sink(client s3iface.S3API, bucketName, prefix string, log *slog.Logger) *S3Sink {
	if log == nil {
		log = slog.Default()
	}
	prefix = strings.Trim(prefix, "/")
	uri := fmt.Sprintf("s3://%s/", bucketName)
	if prefix != "" {
		uri += prefix + "/"
	}
	return &S3Sink{
		client:      client,
		bucketName:  bucketName,
		prefix:      prefix,
		log:         log,
		locationURI: uri,
	}
}

// NewS3Client creates an S3 client for region using the default AWS credential chain.
// A non-empty endpoint selects an S3-compatible service.
func NewS3Client(region, endpoint string) (*s3.S3, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return s3.New(sess), nil
}

// Write uploads every artifact as its own object. The first failing put stops the
// write and is reported as *interfaces.RemoteError naming the object.
func (s *S3Sink) Write(ctx context.Context, identity interfaces.DeviceIdentity, bundle *interfaces.CredentialBundle, metadata interfaces.ConnectionMetadata) error {
	start := time.Now()

	artifacts, err := interfaces.ArtifactSet(identity, bundle, metadata)
	if err != nil {
		return fmt.Errorf("refusing to write incomplete bundle: %w", err)
	}

	written := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		key := s.ObjectKey(identity, artifact.Filename)

		_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:               aws.String(s.bucketName),
			Key:                  aws.String(key),
			Body:                 bytes.NewReader(artifact.Data),
			ContentType:          aws.String(contentTypeFor(artifact.Kind)),
			ServerSideEncryption: aws.String(s3.ServerSideEncryptionAes256),
		})
		if err != nil {
			s.log.Error("Failed to upload object to S3",
				slog.String("bucket", s.bucketName),
				slog.String("key", key),
				slog.Any("written", written),
				"err", err,
				slog.Duration("duration", time.Since(start)))
			return &interfaces.RemoteError{
				Stage:  interfaces.StageDistributed,
				Target: fmt.Sprintf("s3://%s/%s", s.bucketName, key),
				Err:    err,
			}
		}
		written = append(written, key)
	}

	s.log.Debug("Stored bundle in S3",
		slog.String("bucket", s.bucketName),
		slog.Any("keys", written),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// ObjectKey returns the key an artifact of identity is stored under.
func (s *S3Sink) ObjectKey(identity interfaces.DeviceIdentity, filename string) string {
	prefix := s.prefix
	if prefix == "" {
		prefix = identity.Name
	}
	return path.Join(prefix, filename)
}

// Name returns a unique identifier for this sink.
func (s *S3Sink) Name() string {
	return fmt.Sprintf("s3-%s", s.bucketName)
}

// LocationURI returns the URI that identifies this sink.
func (s *S3Sink) LocationURI() string {
	return s.locationURI
}

func contentTypeFor(kind interfaces.ArtifactKind) string {
	if kind == interfaces.ArtifactEndpoint {
		return "application/json"
	}
	return "application/x-pem-file"
}
