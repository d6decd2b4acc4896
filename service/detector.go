package service

import (
	"encoding/base64"
	"time"

	"github.com/emilythestrangee/algaerithm/model"
	"github.com/emilythestrangee/algaerithm/utils"
	"go.uber.org/zap"
)

// AlgaeDetector 负责藻类检测：解码、水体提取、分类、渲染
type AlgaeDetector struct {
	classifier Classifier
	codec      *ImageCodec
}

func NewAlgaeDetector(classifier Classifier) *AlgaeDetector {
	return &AlgaeDetector{
		classifier: classifier,
		codec:      NewImageCodec(),
	}
}

// ModelFingerprint 当前分类模型的标识，用于区分缓存
func (d *AlgaeDetector) ModelFingerprint() string {
	return d.classifier.Fingerprint()
}

// Detect 处理图片并返回检测结果
func (d *AlgaeDetector) Detect(md5 string, data []byte) (*model.DetectionResult, error) {
	startTime := time.Now()

	raster, err := d.codec.Decode(data)
	if err != nil {
		return nil, err
	}

	utils.Logger.Info("processing image",
		zap.String("md5", md5),
		zap.Int("width", raster.Width),
		zap.Int("height", raster.Height))

	analysis, err := Analyze(raster, d.classifier)
	if err != nil {
		return nil, err
	}

	png, err := d.codec.EncodeMask(analysis.Algae, analysis.Width, analysis.Height)
	if err != nil {
		return nil, err
	}

	result := &model.DetectionResult{
		MD5:         md5,
		Width:       analysis.Width,
		Height:      analysis.Height,
		WaterPixels: analysis.WaterPixels,
		AlgaePixels: analysis.AlgaePixels,
		Coverage:    analysis.Coverage,
		Status:      analysis.Status,
		Mask:        base64.StdEncoding.EncodeToString(png),
		Timestamp:   time.Now().Unix(),
	}

	utils.Logger.Info("image processed successfully",
		zap.String("md5", md5),
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("water_pixels", analysis.WaterPixels),
		zap.Int("algae_pixels", analysis.AlgaePixels),
		zap.Float64("coverage", analysis.Coverage),
		zap.String("status", analysis.Status))

	return result, nil
}
