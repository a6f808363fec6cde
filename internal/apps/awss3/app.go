// Package awss3 exposes Amazon S3 bucket and object operations through aws-sdk-go-v2.
package awss3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/ca-srg/toolbelt/internal/application"
)

const (
	Name          = "aws_s3"
	defaultRegion = "us-east-1"

	// DeleteBatchSize is the maximum number of keys per DeleteObjects request.
	DeleteBatchSize   = 1000
	deleteConcurrency = 4
)

// App is the S3 application.
type App struct {
	application.Base

	region       string
	endpoint     string
	usePathStyle bool

	mu       sync.Mutex
	client   *s3.Client
	cacheKey string
}

// Option configures the application.
type Option func(*App)

// WithRegion sets the region used when credentials carry none.
func WithRegion(region string) Option {
	return func(a *App) {
		if region != "" {
			a.region = region
		}
	}
}

// WithEndpoint points the client at an S3-compatible endpoint.
func WithEndpoint(endpoint string, usePathStyle bool) Option {
	return func(a *App) {
		a.endpoint = endpoint
		a.usePathStyle = usePathStyle
	}
}

// New creates the application. Without an integration the default AWS credential
// chain is used.
func New(integration application.Integration, opts ...Option) *App {
	a := &App{Base: application.NewBase(Name, integration), region: defaultRegion}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tools lists the application's tools.
func (a *App) Tools() []application.Tool {
	return []application.Tool{
		application.NewTool("list_buckets", "Lists all buckets of the account.",
			a.listBuckets, application.ReadOnly(), application.WithTags("bucket")),
		application.NewTool("create_bucket", "Creates a bucket, in the given region when set.",
			a.createBucket, application.WithTags("bucket")),
		application.NewTool("delete_bucket", "Deletes an empty bucket.",
			a.deleteBucket, application.Destructive(), application.WithTags("bucket")),
		application.NewTool("get_bucket_policy", "Returns the bucket policy document.",
			a.getBucketPolicy, application.ReadOnly(), application.WithTags("bucket", "policy")),
		application.NewTool("set_bucket_policy", "Replaces the bucket policy document.",
			a.setBucketPolicy, application.Idempotent(), application.WithTags("bucket", "policy")),
		application.NewTool("list_prefixes", "Lists the folder-like prefixes directly under a prefix.",
			a.listPrefixes, application.Important(), application.ReadOnly(), application.WithTags("prefix")),
		application.NewTool("create_prefix", "Creates an empty folder marker object.",
			a.createPrefix, application.Important(), application.WithTags("prefix")),
		application.NewTool("list_objects", "Lists the objects under a prefix, folder markers excluded.",
			a.listObjects, application.Important(), application.ReadOnly(), application.WithTags("object")),
		application.NewTool("search_objects", "Lists objects under a prefix whose name contains a pattern and whose size is within bounds.",
			a.searchObjects, application.ReadOnly(), application.WithTags("object", "search")),
		application.NewTool("get_storage_summary", "Totals object count and size under a prefix.",
			a.storageSummary, application.ReadOnly(), application.WithTags("object")),
		application.NewTool("put_text_object", "Writes a text object.",
			a.putTextObject, application.Important(), application.WithTags("object")),
		application.NewTool("put_object_from_base64", "Writes an object from base64 encoded bytes.",
			a.putBase64Object, application.Important(), application.WithTags("object")),
		application.NewTool("get_object_content", "Reads an object as text or base64.",
			a.getObjectContent, application.Important(), application.ReadOnly(), application.WithTags("object")),
		application.NewTool("get_object_metadata", "Returns an object's size, type, etag and user metadata.",
			a.getObjectMetadata, application.ReadOnly(), application.WithTags("object")),
		application.NewTool("copy_object", "Copies an object, possibly across buckets.",
			a.copyObject, application.WithTags("object")),
		application.NewTool("move_object", "Copies an object then deletes the source.",
			a.moveObject, application.WithTags("object")),
		application.NewTool("delete_object", "Deletes one object.",
			a.deleteObject, application.Destructive(), application.WithTags("object")),
		application.NewTool("delete_objects", "Deletes many objects in batches of 1000.",
			a.deleteObjects, application.Destructive(), application.WithTags("object", "batch")),
		application.NewTool("generate_presigned_url", "Creates a time-limited URL to GET, PUT or DELETE an object.",
			a.presign, application.ReadOnly(), application.WithTags("object", "share")),
	}
}

// s3Client returns a client for the integration's current credentials, reusing the
// previous one while they are unchanged.
func (a *App) s3Client(ctx context.Context) (*s3.Client, error) {
	region := a.region
	var provider aws.CredentialsProvider

	if a.Integration() != nil {
		creds, err := a.Credentials(ctx)
		if err != nil {
			return nil, err
		}
		accessKey := creds.Get("access_key_id", "aws_access_key_id", "AWS_ACCESS_KEY_ID", "username")
		secretKey := creds.Get("secret_access_key", "aws_secret_access_key", "AWS_SECRET_ACCESS_KEY", "password")
		if accessKey == "" || secretKey == "" {
			return nil, application.NotAuthorized(Name, "access_key_id and secret_access_key are required")
		}
		if r := creds.Get("region", "AWS_REGION"); r != "" {
			region = r
		}
		provider = credentials.NewStaticCredentialsProvider(accessKey, secretKey, creds.Get("session_token", "aws_session_token"))
	}

	key := region
	if provider != nil {
		v, _ := provider.Retrieve(ctx)
		key += "|" + v.AccessKeyID + "|" + v.SecretAccessKey + "|" + v.SessionToken
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil && a.cacheKey == key {
		return a.client, nil
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if provider != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(provider))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	a.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if a.endpoint != "" {
			o.BaseEndpoint = aws.String(a.endpoint)
		}
		o.UsePathStyle = a.usePathStyle
	})
	a.cacheKey = key
	return a.client, nil
}

var authErrorCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"InvalidToken":          true,
}

// classifyAWSError maps SDK failures onto the shared error kinds so callers can read
// the HTTP status of a rejected S3 call.
func classifyAWSError(op string, err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		if status == 0 {
			return fmt.Errorf("s3 %s: %w", op, err)
		}
		return &application.HTTPError{StatusCode: status, Method: op, Message: err.Error(), Retryable: status >= 500}
	}

	message := apiErr.ErrorMessage()
	if message == "" {
		message = apiErr.ErrorCode()
	} else {
		message = apiErr.ErrorCode() + ": " + message
	}
	if status == 0 {
		status = http.StatusBadRequest
	}

	httpErr := &application.HTTPError{
		StatusCode: status,
		Method:     op,
		Message:    message,
		Retryable:  status == http.StatusTooManyRequests || status >= 500 || apiErr.ErrorCode() == "SlowDown",
	}
	if authErrorCodes[apiErr.ErrorCode()] || status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &application.NotAuthorizedError{App: Name, Message: "credentials rejected", Cause: httpErr}
	}
	return httpErr
}

// joinKey places name under prefix.
func joinKey(prefix, name string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// copySource builds the URL-encoded x-amz-copy-source value.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
