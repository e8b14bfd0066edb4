package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// mockS3Client implements S3API for unit testing.
type mockS3Client struct {
	// objects stores all object keys of a single bucket.
	objects map[string]bool
	// deleteCalls tracks the number of DeleteObjects calls.
	deleteCalls int
	// deleteBatchSizes records the key count of each DeleteObjects call.
	deleteBatchSizes []int
	// refuse lists keys reported under Errors by DeleteObjects.
	refuse map[string]bool
	// failDelete makes DeleteObjects return a transport error.
	failDelete bool
	// headErr is returned from HeadBucket.
	headErr error
}

func newMockS3Client(keys ...string) *mockS3Client {
	m := &mockS3Client{objects: make(map[string]bool), refuse: make(map[string]bool)}
	for _, k := range keys {
		m.objects[k] = true
	}
	return m
}

func (m *mockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(params.Prefix)
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Build a flat list of contents and common prefixes in key order.
	type item struct {
		key    string
		prefix bool
	}
	var items []item
	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if idx := strings.Index(rest, "/"); idx >= 0 && idx < len(rest)-1 {
			cp := prefix + rest[:idx+1]
			if !seen[cp] {
				seen[cp] = true
				items = append(items, item{key: cp, prefix: true})
			}
			continue
		}
		items = append(items, item{key: k})
	}

	start := 0
	if params.ContinuationToken != nil {
		start, _ = strconv.Atoi(aws.ToString(params.ContinuationToken))
	}
	limit := int(aws.ToInt32(params.MaxKeys))
	end := start + limit
	if end > len(items) {
		end = len(items)
	}

	out := &s3.ListObjectsV2Output{}
	for _, it := range items[start:end] {
		if it.prefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(it.key)})
		} else {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(it.key)})
		}
	}
	if end < len(items) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (m *mockS3Client) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	m.deleteCalls++
	m.deleteBatchSizes = append(m.deleteBatchSizes, len(params.Delete.Objects))
	if m.failDelete {
		return nil, &mockAPIError{code: "InternalError", message: "We encountered an internal error.", httpStatus: 500}
	}
	out := &s3.DeleteObjectsOutput{}
	for _, obj := range params.Delete.Objects {
		key := aws.ToString(obj.Key)
		if m.refuse[key] {
			out.Errors = append(out.Errors, types.Error{Key: obj.Key, Code: aws.String("AccessDenied"), Message: aws.String("Access Denied")})
			continue
		}
		delete(m.objects, key)
		out.Deleted = append(out.Deleted, types.DeletedObject{Key: obj.Key})
	}
	return out, nil
}

func (m *mockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

// mockAPIError implements smithy.APIError for testing error mapping.
type mockAPIError struct {
	code       string
	message    string
	httpStatus int
}

func (e *mockAPIError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *mockAPIError) ErrorCode() string {
	return e.code
}

func (e *mockAPIError) ErrorMessage() string {
	return e.message
}

func (e *mockAPIError) ErrorFault() smithy.ErrorFault {
	if e.httpStatus >= 500 {
		return smithy.FaultServer
	}
	return smithy.FaultClient
}

func TestAWSListDelimiter(t *testing.T) {
	mock := newMockS3Client("meals/generated/a.png", "meals/generated/b.png", "meals/cover.png", "meals/")
	b := NewAWSBackendWithClient("us-east-1", "", mock)

	page, err := b.List(context.Background(), "assets", "meals/", "", 100)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var files, prefixes []string
	for _, e := range page.Entries {
		if e.IsPrefix {
			prefixes = append(prefixes, e.Path)
		} else {
			files = append(files, e.Path)
		}
	}
	if len(files) != 1 || files[0] != "meals/cover.png" {
		t.Errorf("files = %v, want [meals/cover.png] (folder marker skipped)", files)
	}
	if len(prefixes) != 1 || prefixes[0] != "meals/generated/" {
		t.Errorf("prefixes = %v, want [meals/generated/]", prefixes)
	}
}

func TestAWSListPagination(t *testing.T) {
	mock := newMockS3Client("p/1", "p/2", "p/3")
	b := NewAWSBackendWithClient("us-east-1", "", mock)
	ctx := context.Background()

	page, err := b.List(ctx, "assets", "p/", "", 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Entries) != 2 || page.NextPageToken == "" {
		t.Fatalf("first page = %d entries, token %q", len(page.Entries), page.NextPageToken)
	}
	page, err = b.List(ctx, "assets", "p/", page.NextPageToken, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Entries) != 1 || page.NextPageToken != "" {
		t.Errorf("second page = %d entries, token %q", len(page.Entries), page.NextPageToken)
	}
}

func TestAWSRemoveBatches(t *testing.T) {
	var keys []string
	for i := 0; i < 1500; i++ {
		keys = append(keys, fmt.Sprintf("k/%04d", i))
	}
	mock := newMockS3Client(keys...)
	mock.refuse["k/0007"] = true
	b := NewAWSBackendWithClient("us-east-1", "", mock)

	removed, err := b.Remove(context.Background(), "assets", keys)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if mock.deleteCalls != 2 {
		t.Errorf("DeleteObjects calls = %d, want 2", mock.deleteCalls)
	}
	if mock.deleteBatchSizes[0] != 1000 || mock.deleteBatchSizes[1] != 500 {
		t.Errorf("batch sizes = %v, want [1000 500]", mock.deleteBatchSizes)
	}
	if len(removed) != 1499 {
		t.Errorf("removed = %d, want 1499 (refused key excluded)", len(removed))
	}
}

func TestAWSRemoveError(t *testing.T) {
	mock := newMockS3Client("a")
	mock.failDelete = true
	b := NewAWSBackendWithClient("us-east-1", "", mock)

	removed, err := b.Remove(context.Background(), "assets", []string{"a"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
}

func TestAWSHealthCheck(t *testing.T) {
	mock := newMockS3Client()
	b := NewAWSBackendWithClient("us-east-1", "assets", mock)
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
	mock.headErr = &mockAPIError{code: "NotFound", message: "Not Found", httpStatus: 404}
	err := b.HealthCheck(context.Background())
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("HealthCheck err = %v, want not-exist error", err)
	}
}

func TestIsAWSNotFound(t *testing.T) {
	if !isAWSNotFound(&mockAPIError{code: "NoSuchKey"}) {
		t.Error("NoSuchKey should be not-found")
	}
	if isAWSNotFound(&mockAPIError{code: "AccessDenied"}) {
		t.Error("AccessDenied should not be not-found")
	}
	if isAWSNotFound(fmt.Errorf("plain")) {
		t.Error("plain error should not be not-found")
	}
}
