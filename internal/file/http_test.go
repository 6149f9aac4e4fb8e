package file

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmarat/filedrop/internal/quota"
)

const testPublicURL = "http://drop.example.com"

func newTestRouter(service *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, service, testPublicURL)
	return router
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestUploadEndpointReturnsLink(t *testing.T) {
	service := newTestService(newFakeRepo(), newFakeBlobStore(), &fakeTracker{})
	router := newTestRouter(service)

	body, contentType := multipartBody(t, "notes.txt", []byte("hello"), nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Link        string `json:"link"`
		Expires     string `json:"expires"`
		AccessLimit int    `json:"accessLimit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.True(t, strings.HasPrefix(resp.Link, testPublicURL+"/file/"), "link %q", resp.Link)
	assert.True(t, strings.HasSuffix(resp.Link, "/notes.txt"), "link %q", resp.Link)
	assert.Equal(t, 1, resp.AccessLimit)
	assert.NotEmpty(t, resp.Expires)
}

func TestUploadEndpointMissingFileField(t *testing.T) {
	service := newTestService(newFakeRepo(), newFakeBlobStore(), &fakeTracker{})
	router := newTestRouter(service)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("password", "whatever"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadEndpointQuotaExceeded(t *testing.T) {
	tracker := &fakeTracker{reserveErr: quota.ErrQuotaExceeded}
	service := newTestService(newFakeRepo(), newFakeBlobStore(), tracker)
	router := newTestRouter(service)

	body, contentType := multipartBody(t, "big.bin", []byte("data"), nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInsufficientStorage, rr.Code)
}

func TestUploadEndpointPayloadTooLarge(t *testing.T) {
	service := NewService(newFakeRepo(), newFakeBlobStore(), &fakeTracker{}, Policy{
		MaxUploadBytes:     2,
		DefaultExpiry:      testPolicy.DefaultExpiry,
		MaxExpiry:          testPolicy.MaxExpiry,
		DefaultAccessLimit: 1,
		MaxAccessLimit:     30,
	}, zerolog.Nop())
	router := newTestRouter(service)

	body, contentType := multipartBody(t, "big.bin", []byte("more than two bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestDownloadEndpointNotFound(t *testing.T) {
	service := newTestService(newFakeRepo(), newFakeBlobStore(), &fakeTracker{})
	router := newTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/file/nonexistent/name.txt", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDownloadEndpointStreamsAndSelfDestructs(t *testing.T) {
	repo := newFakeRepo()
	blobs := newFakeBlobStore()
	service := newTestService(repo, blobs, &fakeTracker{})
	router := newTestRouter(service)

	meta := uploadFixture(t, service, UploadOptions{}, []byte("single use"))

	req := httptest.NewRequest(http.MethodGet, "/file/"+meta.ID+"/fixture.bin", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "single use", rr.Body.String())
	assert.Equal(t, "application/octet-stream", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `filename="fixture.bin"`)

	// The only access is spent; the file is gone everywhere.
	req = httptest.NewRequest(http.MethodGet, "/file/"+meta.ID+"/fixture.bin", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 0, repo.len())
	assert.False(t, blobs.has(meta.ID))
}

func TestDownloadEndpointPasswordHeader(t *testing.T) {
	service := newTestService(newFakeRepo(), newFakeBlobStore(), &fakeTracker{})
	router := newTestRouter(service)

	meta := uploadFixture(t, service, UploadOptions{Password: "hunter2", AccessLimit: 3}, []byte("guarded"))

	req := httptest.NewRequest(http.MethodGet, "/file/"+meta.ID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/file/"+meta.ID, nil)
	req.Header.Set("X-File-Password", "hunter2")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "guarded", rr.Body.String())
}
