package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mehular0ra/forge/internal/apperr"
	"github.com/mehular0ra/forge/internal/config"
	"github.com/mehular0ra/forge/internal/tracer"
	"github.com/mehular0ra/forge/internal/util"
	"github.com/mehular0ra/forge/model"
)

// MinioClient wraps the MinIO SDK client.
type MinioClient struct {
	client    *minio.Client
	bucket    string
	transport *http.Transport
}

// NewMinioClient initializes and returns a MinIO-backed project store.
func NewMinioClient(cfg *config.MinioConfig) (*MinioClient, error) {

	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       120 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression: true,
		DisableKeepAlives:  false,
	}

	cli, err := minio.New(cfg.URL, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.ACCESS_KEY, cfg.SECRET_KEY, ""),
		Secure:    cfg.USE_SSL,
		Transport: transport,
	})
	if err != nil {
		return nil, err
	}

	return &MinioClient{client: cli, bucket: cfg.PROJECTS_BUCKET, transport: transport}, nil
}

func (m *MinioClient) Save(pctx context.Context, p *model.Project, files map[string]string) error {
	t := tracer.GetTracer()
	ctx, span := t.Start(pctx, "MinIO/SaveProject")
	defer span.End()

	meta, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := m.upload(ctx, util.ProjectMetaPath(p.UserID, p.ID), meta); err != nil {
		util.RecordSpanError(span, err)
		return err
	}

	for name, content := range files {
		if err := m.upload(ctx, util.ProjectFilePath(p.UserID, p.ID, name), []byte(content)); err != nil {
			util.RecordSpanError(span, err)
			return err
		}
	}
	return nil
}

func (m *MinioClient) Get(pctx context.Context, userID, projectID string) (*model.Project, map[string]string, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(pctx, "MinIO/GetProject")
	defer span.End()

	meta, err := m.download(ctx, util.ProjectMetaPath(userID, projectID))
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil, apperr.ErrNotFound
		}
		util.RecordSpanError(span, err)
		return nil, nil, err
	}

	var p model.Project
	if err := json.Unmarshal(meta, &p); err != nil {
		util.RecordSpanError(span, err)
		return nil, nil, err
	}

	filePrefix := util.ProjectFilePath(userID, projectID, "")
	files := make(map[string]string)
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: filePrefix, Recursive: true}) {
		if obj.Err != nil {
			util.RecordSpanError(span, obj.Err)
			return nil, nil, obj.Err
		}
		content, err := m.download(ctx, obj.Key)
		if err != nil {
			util.RecordSpanError(span, err)
			return nil, nil, err
		}
		files[strings.TrimPrefix(obj.Key, filePrefix)] = string(content)
	}

	return &p, files, nil
}

func (m *MinioClient) Count(pctx context.Context, userID string) (int, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(pctx, "MinIO/CountProjects")
	defer span.End()

	n := 0
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: util.ProjectPrefix(userID)}) {
		if obj.Err != nil {
			util.RecordSpanError(span, obj.Err)
			return 0, obj.Err
		}
		// Non-recursive listing yields one common prefix per project.
		if strings.HasSuffix(obj.Key, "/") {
			n++
		}
	}
	return n, nil
}

func (m *MinioClient) RefreshPreview(pctx context.Context, p *model.Project) error {
	t := tracer.GetTracer()
	ctx, span := t.Start(pctx, "MinIO/RefreshPreview")
	defer span.End()

	meta, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := m.upload(ctx, util.ProjectMetaPath(p.UserID, p.ID), meta); err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

// PersistApp records metadata for a completed scaffolding job. The returned
// payload is what the job exposes to callers as appData.
func (m *MinioClient) PersistApp(pctx context.Context, job *model.Job) (map[string]any, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(pctx, "MinIO/PersistApp")
	defer span.End()

	appData := map[string]any{
		"appName":     job.AppName,
		"sandboxId":   job.SandboxID,
		"completedAt": model.NormalizeTime(time.Now()),
	}
	meta, err := json.Marshal(appData)
	if err != nil {
		return nil, err
	}
	if err := m.upload(ctx, util.AppMetaPath(job.UserID, job.ID), meta); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return appData, nil
}

func (m *MinioClient) upload(ctx context.Context, objectPath string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := m.client.PutObject(ctx, m.bucket, objectPath, reader, int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (m *MinioClient) download(ctx context.Context, objectPath string) ([]byte, error) {
	object, err := m.client.GetObject(ctx, m.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()

	if _, err := object.Stat(); err != nil {
		return nil, err
	}

	return io.ReadAll(object)
}

func (m *MinioClient) Close() {
	m.transport.CloseIdleConnections()
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey"
}
