package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbrain-team/vid/internal/config"
	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/domain/search"
	"github.com/nbrain-team/vid/internal/interfaces/httpserver"
	"github.com/nbrain-team/vid/internal/mock"
	"github.com/nbrain-team/vid/utils/assetid"
)

type serverFixture struct {
	engine *gin.Engine
	repo   *mock.Repository
	blobs  *mock.BlobStore
	queue  *mock.TaskQueue
	index  *mock.VectorIndex
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		ServiceName:       "media-index",
		Environment:       "test",
		MaxUploadBytes:    1 << 20,
		AllowedExtensions: []string{"jpg", "jpeg", "png", "mp4"},
		MaxBulkFiles:      2,
		S3PresignTTL:      time.Hour,
	}

	f := &serverFixture{
		repo:  mock.NewRepository(),
		blobs: mock.NewBlobStore(),
		queue: mock.NewTaskQueue(),
		index: mock.NewVectorIndex(),
	}
	index := f.index
	embedder := mock.NewEmbedder(4)

	ingestor := media.NewIngestor(cfg, f.repo, f.blobs, f.queue, zerolog.Nop())
	mediaService := media.NewService(cfg, f.repo, f.blobs, index, zerolog.Nop())
	t.Cleanup(mediaService.Close)
	searchService := search.NewService(f.repo, index, embedder, zerolog.Nop())

	server := httpserver.New(cfg, zerolog.Nop(), ingestor, mediaService, searchService, nil)
	f.engine = server.Engine()
	return f
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func smallJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10)), nil))
	return buf.Bytes()
}

func TestUploadRequiresOwnerHeader(t *testing.T) {
	f := newServerFixture(t)
	body, contentType := multipartBody(t, "file", "photo.jpg", smallJPEG(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadAccepted(t *testing.T) {
	f := newServerFixture(t)
	body, contentType := multipartBody(t, "file", "photo.jpg", smallJPEG(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		ID       string `json:"id"`
		FileType string `json:"file_type"`
		Status   string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.ID, "vid_")
	assert.Equal(t, "image", resp.FileType)
	assert.Equal(t, "processing", resp.Status)

	ready, _ := f.queue.Pending()
	assert.Equal(t, 1, ready)
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	f := newServerFixture(t)
	body, contentType := multipartBody(t, "file", "script.sh", []byte("#!/bin/sh"))

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkUploadPartialRejection(t *testing.T) {
	f := newServerFixture(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	good, err := w.CreateFormFile("files", "photo.jpg")
	require.NoError(t, err)
	_, err = good.Write(smallJPEG(t))
	require.NoError(t, err)
	bad, err := w.CreateFormFile("files", "script.sh")
	require.NoError(t, err)
	_, err = bad.Write([]byte("#!/bin/sh"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/upload/bulk", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Accepted []json.RawMessage `json:"accepted"`
		Rejected []struct {
			Filename string `json:"filename"`
		} `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Accepted, 1)
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, "script.sh", resp.Rejected[0].Filename)
}

// seedCommitted puts a fully processed asset with an indexed vector in place.
func (f *serverFixture) seedCommitted(t *testing.T, ownerID, caption string) *media.MediaAsset {
	t.Helper()
	ctx := context.Background()
	id := assetid.New()
	require.NoError(t, f.repo.Create(ctx, &media.MediaAsset{
		ID:               id,
		OriginalFilename: "photo.jpg",
		FileType:         media.FileTypeImage,
		MimeType:         "image/jpeg",
		StoragePath:      "users/" + ownerID + "/" + id + ".jpg",
		OwnerID:          ownerID,
		LicenseType:      "standard",
		CreatedAt:        time.Now(),
	}))
	embeddingID, err := f.index.Upsert(ctx, "", make([]float32, 4),
		media.VectorPayload{AssetID: id, FileType: "image", Caption: caption})
	require.NoError(t, err)
	require.NoError(t, f.repo.CommitDerived(ctx, id, media.DerivedFields{
		Caption:     caption,
		EmbeddingID: embeddingID,
		ProcessedAt: time.Now().UTC(),
	}))
	committed, err := f.repo.GetByID(ctx, id)
	require.NoError(t, err)
	return committed
}

func TestUploadStatus(t *testing.T) {
	f := newServerFixture(t)
	body, contentType := multipartBody(t, "file", "photo.jpg", smallJPEG(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var uploaded struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))

	status := func() (string, *string) {
		req := httptest.NewRequest(http.MethodGet, "/v1/upload/status/"+uploaded.ID, nil)
		req.Header.Set("X-Owner-ID", "owner-1")
		rec := httptest.NewRecorder()
		f.engine.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp struct {
			Status  string  `json:"status"`
			Caption *string `json:"caption"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Status, resp.Caption
	}

	got, _ := status()
	assert.Equal(t, "processing", got)

	require.NoError(t, f.repo.CommitDerived(context.Background(), uploaded.ID, media.DerivedFields{
		Caption:     "a sunset over hills",
		Tags:        []string{"sunset"},
		EmbeddingID: "emb-1",
		ProcessedAt: time.Now().UTC(),
	}))

	got, caption := status()
	assert.Equal(t, "completed", got)
	require.NotNil(t, caption)
	assert.Equal(t, "a sunset over hills", *caption)
}

func TestSemanticDefaultsMinScore(t *testing.T) {
	f := newServerFixture(t)
	asset := f.seedCommitted(t, "owner-1", "a faint match")
	f.index.SetScore(*asset.EmbeddingID, 0.5)

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/search/semantic", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Owner-ID", "owner-1")
		rec := httptest.NewRecorder()
		f.engine.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp struct {
			Results []json.RawMessage `json:"results"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return len(resp.Results)
	}

	// With min_score absent the 0.7 default filters the 0.5 hit.
	assert.Equal(t, 0, post(`{"query":"sunset"}`))
	assert.Equal(t, 1, post(`{"query":"sunset","min_score":0.3}`))
	assert.Equal(t, 0, post(`{"query":"sunset","min_score":0.6}`))
}

func TestUpdateAssetViaPut(t *testing.T) {
	f := newServerFixture(t)
	asset := f.seedCommitted(t, "owner-1", "a sunset over hills")

	req := httptest.NewRequest(http.MethodPut, "/v1/media/"+asset.ID, strings.NewReader(`{"title":"Evening shot"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Title *string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Title)
	assert.Equal(t, "Evening shot", *resp.Title)
}

func TestGetRejectsMalformedID(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/media/not-an-id", nil)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeywordSearchRequiresQuery(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/search/keyword", nil)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
