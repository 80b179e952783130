package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type recordingUploader struct {
	objects map[string]string
	fail    bool
}

func (r *recordingUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if r.fail {
		return nil, errors.New("denied")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	r.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = string(data)
	return &manager.UploadOutput{}, nil
}

func TestS3Mirror(t *testing.T) {
	dir := t.TempDir()
	fw := filepath.Join(dir, "fw.img.gz")
	os.WriteFile(fw, []byte("fw"), 0644)

	rec := &recordingUploader{objects: map[string]string{}}
	m := &S3Mirror{bucket: "b", prefix: "releases", uploader: rec}
	keys, err := m.Mirror(context.Background(), "x86-2025", []string{fw})
	if err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if len(keys) != 1 || keys[0] != "releases/x86-2025/fw.img.gz" {
		t.Errorf("keys = %v", keys)
	}
	if rec.objects["b/releases/x86-2025/fw.img.gz"] != "fw" {
		t.Errorf("objects = %v", rec.objects)
	}

	rec.fail = true
	if _, err := m.Mirror(context.Background(), "t", []string{fw}); err == nil {
		t.Error("expected upload error")
	}
}
