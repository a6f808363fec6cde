package awss3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ca-srg/toolbelt/internal/application"
)

const (
	defaultMaxObjectBytes = 10 << 20
	defaultPresignExpiry  = time.Hour
)

var textExtensions = map[string]bool{
	".txt": true, ".csv": true, ".json": true, ".xml": true, ".html": true,
	".md": true, ".js": true, ".css": true, ".py": true, ".go": true, ".yaml": true, ".yml": true,
}

// Bucket is a bucket summary.
type Bucket struct {
	Name         string `json:"name"`
	CreationDate string `json:"creation_date,omitempty"`
}

// Object is an object summary.
type Object struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified,omitempty"`
	ETag         string `json:"etag,omitempty"`
}

// ObjectContent is the body of an object.
type ObjectContent struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	ContentType   string `json:"content_type"`
	Content       string `json:"content,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
	Size          int    `json:"size"`
	Truncated     bool   `json:"truncated,omitempty"`
}

// ObjectMetadata is the result of a HEAD request.
type ObjectMetadata struct {
	Key          string            `json:"key"`
	Name         string            `json:"name"`
	Size         int64             `json:"size"`
	LastModified string            `json:"last_modified,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata"`
}

// DeleteError is a key S3 refused to delete.
type DeleteError struct {
	Key     string `json:"key"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DeleteResult aggregates the batches of delete_objects.
type DeleteResult struct {
	Deleted []string      `json:"deleted"`
	Errors  []DeleteError `json:"errors"`
}

// StorageSummary totals a prefix.
type StorageSummary struct {
	TotalSizeBytes    int64  `json:"total_size_bytes"`
	HumanReadableSize string `json:"human_readable_size"`
	ObjectCount       int    `json:"object_count"`
}

// Result acknowledges a write.
type Result struct {
	Success bool   `json:"success"`
	Bucket  string `json:"bucket,omitempty"`
	Key     string `json:"key,omitempty"`
}

type emptyInput struct{}

type bucketInput struct {
	BucketName string `json:"bucket_name" validate:"required" jsonschema:"bucket name"`
}

type createBucketInput struct {
	BucketName string `json:"bucket_name" validate:"required,min=3,max=63" jsonschema:"bucket name"`
	Region     string `json:"region,omitempty" jsonschema:"bucket region; the client region by default"`
}

type setPolicyInput struct {
	BucketName string                 `json:"bucket_name" validate:"required" jsonschema:"bucket name"`
	Policy     map[string]interface{} `json:"policy" validate:"required" jsonschema:"IAM policy document"`
}

type prefixInput struct {
	BucketName string `json:"bucket_name" validate:"required" jsonschema:"bucket name"`
	Prefix     string `json:"prefix,omitempty" jsonschema:"folder path; the bucket root when empty"`
}

type createPrefixInput struct {
	BucketName   string `json:"bucket_name" validate:"required" jsonschema:"bucket name"`
	PrefixName   string `json:"prefix_name" validate:"required" jsonschema:"folder name to create"`
	ParentPrefix string `json:"parent_prefix,omitempty" jsonschema:"folder to create it in"`
}

type searchInput struct {
	BucketName  string `json:"bucket_name" validate:"required" jsonschema:"bucket name"`
	Prefix      string `json:"prefix,omitempty" jsonschema:"folder path to search"`
	NamePattern string `json:"name_pattern,omitempty" jsonschema:"case-insensitive substring of the object name"`
	MinSize     *int64 `json:"min_size,omitempty" validate:"omitempty,gte=0" jsonschema:"minimum size in bytes"`
	MaxSize     *int64 `json:"max_size,omitempty" validate:"omitempty,gte=0" jsonschema:"maximum size in bytes"`
}

type putTextInput struct {
	BucketName  string `json:"bucket_name" validate:"required" jsonschema:"bucket name"`
	Prefix      string `json:"prefix,omitempty" jsonschema:"folder path"`
	ObjectName  string `json:"object_name" validate:"required" jsonschema:"object name"`
	Content     string `json:"content" jsonschema:"text to store"`
	ContentType string `json:"content_type,omitempty" jsonschema:"MIME type, text/plain by default"`
}

type putBase64Input struct {
	BucketName    string `json:"bucket_name" validate:"required" jsonschema:"bucket name"`
	Prefix        string `json:"prefix,omitempty" jsonschema:"folder path"`
	ObjectName    string `json:"object_name" validate:"required" jsonschema:"object name"`
	Base64Content string `json:"base64_content" validate:"required,base64" jsonschema:"base64 encoded bytes"`
	ContentType   string `json:"content_type,omitempty" jsonschema:"MIME type"`
}

type objectInput struct {
	BucketName string `json:"bucket_name" validate:"required" jsonschema:"bucket name"`
	Key        string `json:"key" validate:"required" jsonschema:"object key"`
}

type getContentInput struct {
	BucketName string `json:"bucket_name" validate:"required" jsonschema:"bucket name"`
	Key        string `json:"key" validate:"required" jsonschema:"object key"`
	MaxBytes   int64  `json:"max_bytes,omitempty" validate:"omitempty,gte=1" jsonschema:"read at most this many bytes, 10 MiB by default"`
}

type copyInput struct {
	SourceBucket string `json:"source_bucket" validate:"required" jsonschema:"source bucket"`
	SourceKey    string `json:"source_key" validate:"required" jsonschema:"source key"`
	DestBucket   string `json:"dest_bucket" validate:"required" jsonschema:"destination bucket"`
	DestKey      string `json:"dest_key" validate:"required" jsonschema:"destination key"`
}

type deleteObjectsInput struct {
	BucketName string   `json:"bucket_name" validate:"required" jsonschema:"bucket name"`
	Keys       []string `json:"keys" validate:"required,min=1" jsonschema:"keys to delete"`
}

type presignInput struct {
	BucketName string `json:"bucket_name" validate:"required" jsonschema:"bucket name"`
	Key        string `json:"key" validate:"required" jsonschema:"object key"`
	Expiration int    `json:"expiration,omitempty" validate:"omitempty,gte=1,lte=604800" jsonschema:"seconds the URL stays valid, 3600 by default"`
	HTTPMethod string `json:"http_method,omitempty" validate:"omitempty,oneof=GET PUT DELETE" jsonschema:"GET, PUT or DELETE"`
}

func (a *App) listBuckets(ctx context.Context, _ emptyInput) ([]Bucket, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, classifyAWSError("ListBuckets", err)
	}
	buckets := make([]Bucket, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, Bucket{Name: aws.ToString(b.Name), CreationDate: formatTime(b.CreationDate)})
	}
	return buckets, nil
}

func (a *App) createBucket(ctx context.Context, in createBucketInput) (Result, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return Result{}, err
	}
	input := &s3.CreateBucketInput{Bucket: aws.String(in.BucketName)}
	if in.Region != "" && in.Region != defaultRegion {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(in.Region),
		}
	}
	if _, err := c.CreateBucket(ctx, input); err != nil {
		return Result{}, classifyAWSError("CreateBucket", err)
	}
	return Result{Success: true, Bucket: in.BucketName}, nil
}

func (a *App) deleteBucket(ctx context.Context, in bucketInput) (Result, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return Result{}, err
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(in.BucketName)}); err != nil {
		return Result{}, classifyAWSError("DeleteBucket", err)
	}
	return Result{Success: true, Bucket: in.BucketName}, nil
}

func (a *App) getBucketPolicy(ctx context.Context, in bucketInput) (map[string]interface{}, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: aws.String(in.BucketName)})
	if err != nil {
		return nil, classifyAWSError("GetBucketPolicy", err)
	}
	var policy map[string]interface{}
	if err := json.Unmarshal([]byte(aws.ToString(out.Policy)), &policy); err != nil {
		return nil, fmt.Errorf("bucket policy is not valid JSON: %w", err)
	}
	return policy, nil
}

func (a *App) setBucketPolicy(ctx context.Context, in setPolicyInput) (Result, error) {
	doc, err := json.Marshal(in.Policy)
	if err != nil {
		return Result{}, application.Invalid("policy", "must be a JSON object")
	}
	c, err := a.s3Client(ctx)
	if err != nil {
		return Result{}, err
	}
	_, err = c.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{Bucket: aws.String(in.BucketName), Policy: aws.String(string(doc))})
	if err != nil {
		return Result{}, classifyAWSError("PutBucketPolicy", err)
	}
	return Result{Success: true, Bucket: in.BucketName}, nil
}

func (a *App) listPrefixes(ctx context.Context, in prefixInput) ([]string, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	input := &s3.ListObjectsV2Input{Bucket: aws.String(in.BucketName), Delimiter: aws.String("/")}
	if in.Prefix != "" {
		input.Prefix = aws.String(strings.TrimRight(in.Prefix, "/") + "/")
	}

	prefixes := []string{}
	paginator := s3.NewListObjectsV2Paginator(c, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyAWSError("ListObjectsV2", err)
		}
		for _, cp := range page.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(cp.Prefix))
		}
	}
	return prefixes, nil
}

func (a *App) createPrefix(ctx context.Context, in createPrefixInput) (Result, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return Result{}, err
	}
	key := joinKey(in.ParentPrefix, strings.Trim(in.PrefixName, "/")) + "/"
	_, err = c.PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String(in.BucketName), Key: aws.String(key), Body: bytes.NewReader(nil)})
	if err != nil {
		return Result{}, classifyAWSError("PutObject", err)
	}
	return Result{Success: true, Bucket: in.BucketName, Key: key}, nil
}

func (a *App) listObjects(ctx context.Context, in prefixInput) ([]Object, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	input := &s3.ListObjectsV2Input{Bucket: aws.String(in.BucketName)}
	if in.Prefix != "" {
		input.Prefix = aws.String(in.Prefix)
	}

	objects := []Object{}
	paginator := s3.NewListObjectsV2Paginator(c, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyAWSError("ListObjectsV2", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, Object{
				Key:          key,
				Name:         baseName(key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: formatTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}
	}
	return objects, nil
}

func (a *App) searchObjects(ctx context.Context, in searchInput) ([]Object, error) {
	objects, err := a.listObjects(ctx, prefixInput{BucketName: in.BucketName, Prefix: in.Prefix})
	if err != nil {
		return nil, err
	}
	pattern := strings.ToLower(in.NamePattern)
	matched := []Object{}
	for _, obj := range objects {
		if pattern != "" && !strings.Contains(strings.ToLower(obj.Name), pattern) {
			continue
		}
		if in.MinSize != nil && obj.Size < *in.MinSize {
			continue
		}
		if in.MaxSize != nil && obj.Size > *in.MaxSize {
			continue
		}
		matched = append(matched, obj)
	}
	return matched, nil
}

func (a *App) storageSummary(ctx context.Context, in prefixInput) (StorageSummary, error) {
	objects, err := a.listObjects(ctx, in)
	if err != nil {
		return StorageSummary{}, err
	}
	var total int64
	for _, obj := range objects {
		total += obj.Size
	}
	return StorageSummary{TotalSizeBytes: total, HumanReadableSize: humanSize(total), ObjectCount: len(objects)}, nil
}

func (a *App) putTextObject(ctx context.Context, in putTextInput) (Result, error) {
	contentType := in.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	return a.put(ctx, in.BucketName, joinKey(in.Prefix, in.ObjectName), []byte(in.Content), contentType)
}

func (a *App) putBase64Object(ctx context.Context, in putBase64Input) (Result, error) {
	data, err := base64.StdEncoding.DecodeString(in.Base64Content)
	if err != nil {
		return Result{}, application.Invalid("base64_content", "must be valid base64")
	}
	return a.put(ctx, in.BucketName, joinKey(in.Prefix, in.ObjectName), data, in.ContentType)
}

func (a *App) put(ctx context.Context, bucket, key string, data []byte, contentType string) (Result, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return Result{}, err
	}
	input := &s3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key), Body: bytes.NewReader(data)}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := c.PutObject(ctx, input); err != nil {
		return Result{}, classifyAWSError("PutObject", err)
	}
	return Result{Success: true, Bucket: bucket, Key: key}, nil
}

func (a *App) getObjectContent(ctx context.Context, in getContentInput) (ObjectContent, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return ObjectContent{}, err
	}
	out, err := c.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(in.BucketName), Key: aws.String(in.Key)})
	if err != nil {
		return ObjectContent{}, classifyAWSError("GetObject", err)
	}
	defer func() { _ = out.Body.Close() }()

	limit := in.MaxBytes
	if limit <= 0 {
		limit = defaultMaxObjectBytes
	}
	data, err := io.ReadAll(io.LimitReader(out.Body, limit+1))
	if err != nil {
		return ObjectContent{}, fmt.Errorf("failed to read s3://%s/%s: %w", in.BucketName, in.Key, err)
	}
	truncated := int64(len(data)) > limit
	if truncated {
		data = data[:limit]
	}

	result := ObjectContent{Key: in.Key, Name: baseName(in.Key), Size: len(data), Truncated: truncated}
	if isText(in.Key, aws.ToString(out.ContentType), data) {
		result.ContentType = "text"
		result.Content = string(data)
	} else {
		result.ContentType = "binary"
		result.ContentBase64 = base64.StdEncoding.EncodeToString(data)
	}
	return result, nil
}

func (a *App) getObjectMetadata(ctx context.Context, in objectInput) (ObjectMetadata, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return ObjectMetadata{}, err
	}
	out, err := c.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(in.BucketName), Key: aws.String(in.Key)})
	if err != nil {
		return ObjectMetadata{}, classifyAWSError("HeadObject", err)
	}
	meta := out.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return ObjectMetadata{
		Key:          in.Key,
		Name:         baseName(in.Key),
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: formatTime(out.LastModified),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         aws.ToString(out.ETag),
		Metadata:     meta,
	}, nil
}

func (a *App) copyObject(ctx context.Context, in copyInput) (Result, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return Result{}, err
	}
	_, err = c.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(in.DestBucket),
		Key:        aws.String(in.DestKey),
		CopySource: aws.String(copySource(in.SourceBucket, in.SourceKey)),
	})
	if err != nil {
		return Result{}, classifyAWSError("CopyObject", err)
	}
	return Result{Success: true, Bucket: in.DestBucket, Key: in.DestKey}, nil
}

func (a *App) moveObject(ctx context.Context, in copyInput) (Result, error) {
	res, err := a.copyObject(ctx, in)
	if err != nil {
		return Result{}, err
	}
	if _, err := a.deleteObject(ctx, objectInput{BucketName: in.SourceBucket, Key: in.SourceKey}); err != nil {
		return Result{}, fmt.Errorf("copied to %s/%s but failed to delete source: %w", in.DestBucket, in.DestKey, err)
	}
	return res, nil
}

func (a *App) deleteObject(ctx context.Context, in objectInput) (Result, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return Result{}, err
	}
	if _, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(in.BucketName), Key: aws.String(in.Key)}); err != nil {
		return Result{}, classifyAWSError("DeleteObject", err)
	}
	return Result{Success: true, Bucket: in.BucketName, Key: in.Key}, nil
}

func (a *App) deleteObjects(ctx context.Context, in deleteObjectsInput) (DeleteResult, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return DeleteResult{}, err
	}

	batches, err := application.ForEachChunk(ctx, in.Keys, DeleteBatchSize, deleteConcurrency,
		func(ctx context.Context, keys []string) (DeleteResult, error) {
			ids := make([]s3types.ObjectIdentifier, len(keys))
			for i, k := range keys {
				ids[i] = s3types.ObjectIdentifier{Key: aws.String(k)}
			}
			out, err := c.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(in.BucketName),
				Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(false)},
			})
			if err != nil {
				return DeleteResult{}, classifyAWSError("DeleteObjects", err)
			}
			res := DeleteResult{}
			for _, d := range out.Deleted {
				res.Deleted = append(res.Deleted, aws.ToString(d.Key))
			}
			for _, e := range out.Errors {
				res.Errors = append(res.Errors, DeleteError{Key: aws.ToString(e.Key), Code: aws.ToString(e.Code), Message: aws.ToString(e.Message)})
			}
			return res, nil
		})
	if err != nil {
		return DeleteResult{}, err
	}

	result := DeleteResult{Deleted: []string{}, Errors: []DeleteError{}}
	for _, b := range batches {
		result.Deleted = append(result.Deleted, b.Deleted...)
		result.Errors = append(result.Errors, b.Errors...)
	}
	return result, nil
}

func (a *App) presign(ctx context.Context, in presignInput) (map[string]string, error) {
	c, err := a.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	expires := defaultPresignExpiry
	if in.Expiration > 0 {
		expires = time.Duration(in.Expiration) * time.Second
	}
	presigner := s3.NewPresignClient(c, s3.WithPresignExpires(expires))
	bucket, key := aws.String(in.BucketName), aws.String(in.Key)

	var urlStr, method string
	switch strings.ToUpper(in.HTTPMethod) {
	case "PUT":
		req, err := presigner.PresignPutObject(ctx, &s3.PutObjectInput{Bucket: bucket, Key: key})
		if err != nil {
			return nil, classifyAWSError("PresignPutObject", err)
		}
		urlStr, method = req.URL, req.Method
	case "DELETE":
		req, err := presigner.PresignDeleteObject(ctx, &s3.DeleteObjectInput{Bucket: bucket, Key: key})
		if err != nil {
			return nil, classifyAWSError("PresignDeleteObject", err)
		}
		urlStr, method = req.URL, req.Method
	default:
		req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: bucket, Key: key})
		if err != nil {
			return nil, classifyAWSError("PresignGetObject", err)
		}
		urlStr, method = req.URL, req.Method
	}
	return map[string]string{"url": urlStr, "method": method, "expires_in": expires.String()}, nil
}

func isText(key, contentType string, data []byte) bool {
	if textExtensions[strings.ToLower(path.Ext(key))] || strings.HasPrefix(contentType, "text/") || contentType == "application/json" {
		return utf8.Valid(data)
	}
	return false
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func humanSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f PB", size)
}
