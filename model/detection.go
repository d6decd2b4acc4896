package model

import "fmt"

// 覆盖率状态等级
const (
	StatusHigh     = "High"
	StatusModerate = "Moderate"
	StatusLow      = "Low"
)

// DetectionResult 藻类检测结果
type DetectionResult struct {
	MD5         string  `json:"md5"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	WaterPixels int     `json:"water_pixels"`
	AlgaePixels int     `json:"algae_pixels"`
	Coverage    float64 `json:"coverage"`
	Status      string  `json:"status"`
	Mask        string  `json:"mask"` // base64编码的PNG
	Timestamp   int64   `json:"timestamp"`
}

// DetectResponse 检测接口响应
type DetectResponse struct {
	AlgaeMask string `json:"algae_mask"`
	Coverage  string `json:"coverage"`
	Status    string `json:"status"`
}

// NewDetectResponse 转换为接口响应格式
func NewDetectResponse(r *DetectionResult) DetectResponse {
	return DetectResponse{
		AlgaeMask: r.Mask,
		Coverage:  fmt.Sprintf("%.2f%%", r.Coverage),
		Status:    r.Status,
	}
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}
