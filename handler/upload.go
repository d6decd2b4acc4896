package handler

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

const imageField = "image"

var (
	errNoImage        = errors.New("no image part")
	errNoSelectedFile = errors.New("image part has empty filename")
	errFileTooLarge   = errors.New("image exceeds upload limit")
)

type upload struct {
	filename string
	data     []byte
}

// readUpload 流式读取 multipart 请求中的 image 文件字段。
// 没有 filename 参数的同名字段是普通表单值，不算作文件
func (h *DetectHandler) readUpload(req *http.Request) (*upload, error) {
	reader, err := req.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoImage, err)
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, errNoImage
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errNoImage, err)
		}
		if part.FormName() != imageField {
			continue
		}

		_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if err != nil {
			continue
		}
		filename, ok := params["filename"]
		if !ok {
			continue
		}
		if filename == "" {
			return nil, errNoSelectedFile
		}

		limit := h.cfg.Upload.MaxSize
		data, err := io.ReadAll(io.LimitReader(part, limit+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read uploaded file: %w", err)
		}
		if int64(len(data)) > limit {
			return nil, errFileTooLarge
		}
		return &upload{filename: filename, data: data}, nil
	}
}

// cacheKey 缓存键包含模型标识，换模型后旧结果不再命中
func (h *DetectHandler) cacheKey(md5 string) string {
	return md5 + ":" + h.detector.ModelFingerprint()
}
