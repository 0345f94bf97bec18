package file

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API used by S3Storage.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Presigner signs GET requests for stored objects.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Storage keeps proofs in a bucket and hands out short-lived presigned
// URLs, so the extractor never needs bucket credentials. Safe for
// concurrent use.
type S3Storage struct {
	client        S3Client
	presigner     Presigner
	bucket        string
	urlExpiry     time.Duration
	uploadTimeout time.Duration
}

type S3Config struct {
	Bucket         string `env:"PROOF_S3_BUCKET"`
	Region         string `env:"PROOF_S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"PROOF_S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"PROOF_S3_SECRET_KEY"`
	Endpoint       string `env:"PROOF_S3_ENDPOINT"`
	ForcePathStyle bool   `env:"PROOF_S3_FORCE_PATH_STYLE" envDefault:"false"`
}

type S3Option func(*s3Options)

type s3Options struct {
	httpClient      *http.Client
	s3Client        S3Client
	presigner       Presigner
	s3ConfigOptions []func(*config.LoadOptions) error
	s3ClientOptions []func(*s3.Options)
	uploadTimeout   time.Duration
	urlExpiry       time.Duration
}

// WithS3Client replaces the SDK client, mainly for tests.
func WithS3Client(client S3Client) S3Option {
	return func(o *s3Options) { o.s3Client = client }
}

// WithPresigner replaces the SDK presign client.
func WithPresigner(p Presigner) S3Option {
	return func(o *s3Options) { o.presigner = p }
}

func WithHTTPClient(client *http.Client) S3Option {
	return func(o *s3Options) { o.httpClient = client }
}

func WithS3ConfigOption(option func(*config.LoadOptions) error) S3Option {
	return func(o *s3Options) { o.s3ConfigOptions = append(o.s3ConfigOptions, option) }
}

func WithS3ClientOption(option func(*s3.Options)) S3Option {
	return func(o *s3Options) { o.s3ClientOptions = append(o.s3ClientOptions, option) }
}

func WithS3UploadTimeout(timeout time.Duration) S3Option {
	return func(o *s3Options) { o.uploadTimeout = timeout }
}

// WithURLExpiry sets how long presigned URLs stay valid. Default 15m.
func WithURLExpiry(d time.Duration) S3Option {
	return func(o *s3Options) {
		if d > 0 {
			o.urlExpiry = d
		}
	}
}

// NewS3Storage loads the default AWS config unless both a client and a
// presigner are injected.
func NewS3Storage(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3Storage, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	options := &s3Options{urlExpiry: 15 * time.Minute}
	for _, opt := range opts {
		opt(options)
	}

	client, presigner := options.s3Client, options.presigner
	if client == nil || presigner == nil {
		awsOptions := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOptions = append(awsOptions, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		if options.httpClient != nil {
			awsOptions = append(awsOptions, config.WithHTTPClient(options.httpClient))
		}
		awsOptions = append(awsOptions, options.s3ConfigOptions...)

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToLoadConfig, err)
		}

		sdk := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
			for _, opt := range options.s3ClientOptions {
				opt(o)
			}
		})
		if client == nil {
			client = sdk
		}
		if presigner == nil {
			presigner = s3.NewPresignClient(sdk)
		}
	}

	return &S3Storage{
		client:        client,
		presigner:     presigner,
		bucket:        cfg.Bucket,
		urlExpiry:     options.urlExpiry,
		uploadTimeout: options.uploadTimeout,
	}, nil
}

// classifyS3Error maps SDK failures onto the package errors.
func classifyS3Error(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s operation", ErrOperationTimeout, operation)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s operation", ErrOperationCanceled, operation)
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, err)
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, err)
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); code {
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %s operation", ErrAccessDenied, operation)
		case "RequestTimeout":
			return fmt.Errorf("%w: %s operation", ErrRequestTimeout, operation)
		case "SlowDown", "ServiceUnavailable":
			return fmt.Errorf("%w: %s operation", ErrServiceUnavailable, operation)
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s", ErrFileNotFound, err)
		case "NoSuchBucket":
			return ErrBucketNotFound
		default:
			return fmt.Errorf("%s operation failed (code: %s): %w", operation, code, err)
		}
	}

	return fmt.Errorf("%s operation failed: %w", operation, err)
}

func (s *S3Storage) Save(ctx context.Context, fh *multipart.FileHeader, key string) (*Proof, error) {
	if s.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}
	if fh == nil {
		return nil, ErrNilFileHeader
	}

	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToOpenFile, err)
	}
	defer func() { _ = src.Close() }()

	mimeType, err := GetMIMEType(fh)
	if err != nil {
		mimeType = "application/octet-stream"
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        src,
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return nil, classifyS3Error(err, "upload proof")
	}
	return describe(fh, key, fh.Size)
}

// URL checks that the object exists and returns a presigned GET URL.
func (s *S3Storage) URL(ctx context.Context, key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", classifyS3Error(err, "check proof")
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", errors.Join(ErrFailedToPresign, classifyS3Error(err, "presign proof"))
	}
	return req.URL, nil
}
