package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/emilythestrangee/algaerithm/config"
	"github.com/emilythestrangee/algaerithm/model"
	"github.com/emilythestrangee/algaerithm/service"
	"github.com/emilythestrangee/algaerithm/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestConfig() *config.Config {
	return &config.Config{
		Upload: config.UploadConfig{MaxSize: 1 << 20},
		Redis:  config.RedisConfig{TTL: time.Hour},
	}
}

func newTestRouter(h *DetectHandler) *gin.Engine {
	r := gin.New()
	r.POST("/api/detect-algae", h.Detect)
	r.GET("/api/detect-algae/:md5", h.GetByMD5)
	return r
}

func lakePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			c := color.NRGBA{R: 0, G: 200, B: 50, A: 255}
			if y == 0 {
				c = color.NRGBA{R: 200, G: 255, B: 0, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func post(r http.Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/detect-algae", body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newDetectHandler(redis *service.RedisService) *DetectHandler {
	return NewDetectHandler(newTestConfig(), redis, service.NewAlgaeDetector(service.NewFallbackClassifier()))
}

func TestDetectMissingImage(t *testing.T) {
	r := newTestRouter(newDetectHandler(nil))

	body, contentType := multipartBody(t, "photo", "lake.png", []byte("x"))
	w := post(r, body, contentType)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error": "No image provided"}`, w.Body.String())
}

func TestDetectNotMultipart(t *testing.T) {
	r := newTestRouter(newDetectHandler(nil))

	w := post(r, bytes.NewBufferString(`{"image": "x"}`), "application/json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error": "No image provided"}`, w.Body.String())
}

func TestDetectImageAsTextField(t *testing.T) {
	r := newTestRouter(newDetectHandler(nil))

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("image", "lake.png"))
	require.NoError(t, mw.Close())
	w := post(r, body, mw.FormDataContentType())

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error": "No image provided"}`, w.Body.String())
}

func TestDetectSkipsTextFieldBeforeFile(t *testing.T) {
	r := newTestRouter(newDetectHandler(nil))

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("image", "ignored"))
	part, err := mw.CreateFormFile("image", "lake.png")
	require.NoError(t, err)
	_, err = part.Write(lakePNG(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	w := post(r, body, mw.FormDataContentType())

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDetectEmptyFilename(t *testing.T) {
	r := newTestRouter(newDetectHandler(nil))

	body, contentType := multipartBody(t, "image", "", nil)
	w := post(r, body, contentType)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error": "No selected file"}`, w.Body.String())
}

func TestDetectFileTooLarge(t *testing.T) {
	h := newDetectHandler(nil)
	h.cfg.Upload.MaxSize = 8
	r := newTestRouter(h)

	body, contentType := multipartBody(t, "image", "lake.png", lakePNG(t))
	w := post(r, body, contentType)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error": "File too large"}`, w.Body.String())
}

func TestDetectInvalidImage(t *testing.T) {
	r := newTestRouter(newDetectHandler(nil))

	body, contentType := multipartBody(t, "image", "lake.png", []byte("not an image"))
	w := post(r, body, contentType)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Error, service.ErrDecode.Error()), resp.Error)
}

func TestDetectSuccess(t *testing.T) {
	r := newTestRouter(newDetectHandler(nil))

	body, contentType := multipartBody(t, "image", "lake.png", lakePNG(t))
	w := post(r, body, contentType)

	require.Equal(t, http.StatusOK, w.Code)

	var resp model.DetectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "25.00%", resp.Coverage)
	assert.Equal(t, model.StatusModerate, resp.Status)

	raw, err := base64.StdEncoding.DecodeString(resp.AlgaeMask)
	require.NoError(t, err)
	mask, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), mask.Bounds())

	var fields map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fields))
	assert.Len(t, fields, 3)
}

func TestDetectUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	redis := service.NewRedisService(&config.RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
	defer redis.Close()
	r := newTestRouter(newDetectHandler(redis))

	data := lakePNG(t)
	md5 := utils.BytesMD5(data)
	key := md5 + ":fallback"

	body, contentType := multipartBody(t, "image", "lake.png", data)
	first := post(r, body, contentType)
	require.Equal(t, http.StatusOK, first.Code)
	assert.True(t, mr.Exists("algae:"+key))

	// 覆盖缓存内容，验证第二次请求命中缓存
	cached, err := redis.GetDetectionResult(context.Background(), key)
	require.NoError(t, err)
	cached.Coverage = 99
	cached.Status = model.StatusHigh
	require.NoError(t, redis.SetDetectionResult(context.Background(), key, cached))

	body, contentType = multipartBody(t, "image", "lake.png", data)
	second := post(r, body, contentType)
	require.Equal(t, http.StatusOK, second.Code)

	var resp model.DetectResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "99.00%", resp.Coverage)
	assert.Equal(t, model.StatusHigh, resp.Status)

	req := httptest.NewRequest(http.MethodGet, "/api/detect-algae/"+md5, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, second.Body.String(), w.Body.String())
}

// allAlgaeForest 单叶节点的森林，所有水体像素都判为藻类
const allAlgaeForest = `{
  "classes": [0, 1],
  "trees": [{
    "children_left": [-1],
    "children_right": [-1],
    "feature": [-2],
    "threshold": [-2],
    "value": [[0, 1]]
  }]
}`

func TestDetectCacheKeyedByModel(t *testing.T) {
	mr := miniredis.RunT(t)
	redis := service.NewRedisService(&config.RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
	defer redis.Close()

	path := filepath.Join(t.TempDir(), "forest.json")
	require.NoError(t, os.WriteFile(path, []byte(allAlgaeForest), 0644))
	forest, err := service.LoadClassifier(path, false)
	require.NoError(t, err)

	data := lakePNG(t)
	md5 := utils.BytesMD5(data)

	body, contentType := multipartBody(t, "image", "lake.png", data)
	w := post(newTestRouter(newDetectHandler(redis)), body, contentType)
	require.Equal(t, http.StatusOK, w.Code)

	// 同一张图片换模型后重新计算
	retrained := newTestRouter(NewDetectHandler(newTestConfig(), redis, service.NewAlgaeDetector(forest)))
	body, contentType = multipartBody(t, "image", "lake.png", data)
	w = post(retrained, body, contentType)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.DetectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "100.00%", resp.Coverage)
	assert.Equal(t, model.StatusHigh, resp.Status)

	assert.True(t, mr.Exists("algae:"+md5+":fallback"))
	assert.True(t, mr.Exists("algae:"+md5+":"+utils.BytesMD5([]byte(allAlgaeForest))))

	req := httptest.NewRequest(http.MethodGet, "/api/detect-algae/"+md5, nil)
	got := httptest.NewRecorder()
	retrained.ServeHTTP(got, req)
	assert.Equal(t, http.StatusOK, got.Code)
	assert.JSONEq(t, w.Body.String(), got.Body.String())
}

func TestDetectCacheUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	redis := service.NewRedisService(&config.RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
	defer redis.Close()
	mr.Close()

	r := newTestRouter(newDetectHandler(redis))
	body, contentType := multipartBody(t, "image", "lake.png", lakePNG(t))
	w := post(r, body, contentType)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetByMD5(t *testing.T) {
	mr := miniredis.RunT(t)
	redis := service.NewRedisService(&config.RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
	defer redis.Close()
	r := newTestRouter(newDetectHandler(redis))

	req := httptest.NewRequest(http.MethodGet, "/api/detect-algae/unknown", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error": "Result not found"}`, w.Body.String())

	disabled := newTestRouter(newDetectHandler(nil))
	w = httptest.NewRecorder()
	disabled.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/detect-algae/unknown", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error": "Cache disabled"}`, w.Body.String())
}
