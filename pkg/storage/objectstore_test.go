package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/gateway/httpclient"
)

type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	fail     int
	deny     bool
	requests int
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	b.requests++
	if b.deny {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if b.fail > 0 {
		b.fail--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, _ := io.ReadAll(r.Body)
	b.objects[r.URL.Path] = body
	b.types[r.URL.Path] = r.Header.Get("Content-Type")
	w.WriteHeader(http.StatusOK)
}

func newTestStore(t *testing.T, bucket *fakeBucket) *ObjectStore {
	t.Helper()
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
		}),
		HTTPClient:       httpclient.New(5 * time.Second),
		BaseEndpoint:     aws.String(srv.URL),
		UsePathStyle:     true,
		RetryMaxAttempts: 1,
	})
	return NewObjectStoreWithClient(client, "documents", 10*time.Minute)
}

func TestPutStoresObjectAndReturnsObjectURL(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}, fail: 1}
	store := newTestStore(t, bucket)

	url, err := store.Put(context.Background(), "reports/c1/diet-chart.pdf", []byte("%PDF-1.3"), "application/pdf")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "/objects/reports/c1/diet-chart.pdf" {
		t.Fatalf("unexpected object url %q", url)
	}
	stored, ok := bucket.objects["/documents/reports/c1/diet-chart.pdf"]
	if !ok || string(stored) != "%PDF-1.3" {
		t.Fatalf("expected object in bucket, got %v", bucket.objects)
	}
	if bucket.types["/documents/reports/c1/diet-chart.pdf"] != "application/pdf" {
		t.Fatalf("unexpected content type %q", bucket.types["/documents/reports/c1/diet-chart.pdf"])
	}
}

func TestPutDoesNotRetryDeniedWrites(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}, deny: true}
	store := newTestStore(t, bucket)

	if _, err := store.Put(context.Background(), "reports/c1/x.pdf", []byte("%PDF-1.3"), "application/pdf"); err == nil {
		t.Fatal("expected denied write to fail")
	}
	if bucket.requests != 1 {
		t.Fatalf("expected a single request for a 403, got %d", bucket.requests)
	}
}

func TestPresignUpload(t *testing.T) {
	store := newTestStore(t, &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}})
	key := CustomerKey(uuid.New(), "../Lab Report (final).pdf")
	if strings.Contains(key, "..") || !strings.HasSuffix(key, "Lab_Report_final.pdf") {
		t.Fatalf("unexpected key %q", key)
	}

	target, err := store.PresignUpload(context.Background(), key, "application/pdf")
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(target.UploadURL, "X-Amz-Signature=") {
		t.Fatalf("expected signed upload url, got %q", target.UploadURL)
	}
	if target.ObjectURL != ObjectURL(key) {
		t.Fatalf("unexpected object url %q", target.ObjectURL)
	}
	if time.Until(target.ExpiresAt) <= 0 {
		t.Fatal("expected expiry in the future")
	}
}

func TestSanitizeFileNameFallback(t *testing.T) {
	if got := sanitizeFileName("   "); got != "upload" {
		t.Fatalf("expected fallback name, got %q", got)
	}
}
