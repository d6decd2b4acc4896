package service

import (
	"fmt"
	"math"

	"github.com/emilythestrangee/algaerithm/model"
)

// nir 由红色通道线性缩放得到，并非真实近红外测量
const nirScale = 0.8

// Raster 解码后的RGB图像，按行优先交错存储 R,G,B
type Raster struct {
	Width  int
	Height int
	Pix    []uint8
}

// Analysis 单张图像的分析结果
type Analysis struct {
	Width       int
	Height      int
	Water       []bool
	Algae       []bool
	WaterPixels int
	AlgaePixels int
	Coverage    float64
	Status      string
}

// Bands 拆分出红、绿、蓝三个通道
func (r *Raster) Bands() (red, green, blue []float64) {
	n := r.Width * r.Height
	red = make([]float64, n)
	green = make([]float64, n)
	blue = make([]float64, n)
	for i := 0; i < n; i++ {
		red[i] = float64(r.Pix[i*3])
		green[i] = float64(r.Pix[i*3+1])
		blue[i] = float64(r.Pix[i*3+2])
	}
	return red, green, blue
}

// SyntheticNIR 用红色通道模拟近红外波段
func SyntheticNIR(red []float64) []float64 {
	nir := make([]float64, len(red))
	for i, v := range red {
		nir[i] = v * nirScale
	}
	return nir
}

// NormalizedDiff 计算归一化差值 (a-b)/(a+b)，分母为0时为NaN
func NormalizedDiff(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		sum := a[i] + b[i]
		if sum == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (a[i] - b[i]) / sum
	}
	return out
}

// WaterMask 水体掩码，NDWI 严格大于0，NaN 永远不是水体
func WaterMask(ndwi []float64) []bool {
	mask := make([]bool, len(ndwi))
	for i, v := range ndwi {
		mask[i] = v > 0
	}
	return mask
}

// WaterFeatures 收集水体像素的 [R,G,B] 特征及其位置
func WaterFeatures(r *Raster, water []bool) ([][3]float64, []int) {
	var features [][3]float64
	var positions []int
	for i, isWater := range water {
		if !isWater {
			continue
		}
		features = append(features, [3]float64{
			float64(r.Pix[i*3]),
			float64(r.Pix[i*3+1]),
			float64(r.Pix[i*3+2]),
		})
		positions = append(positions, i)
	}
	return features, positions
}

// ScatterPredictions 将预测结果写回全尺寸掩码
func ScatterPredictions(size int, positions, labels []int) []bool {
	mask := make([]bool, size)
	for k, pos := range positions {
		mask[pos] = labels[k] == 1
	}
	return mask
}

// CoverageOf 藻类像素占水体像素的百分比
func CoverageOf(algae, water []bool) (coverage float64, algaeCount, waterCount int) {
	for i := range water {
		if water[i] {
			waterCount++
			if algae[i] {
				algaeCount++
			}
		}
	}
	if waterCount == 0 {
		return 0, algaeCount, 0
	}
	return float64(algaeCount) / float64(waterCount) * 100, algaeCount, waterCount
}

// StatusFor 按覆盖率划分等级，边界值归入较低等级
func StatusFor(coverage float64) string {
	switch {
	case coverage > 30:
		return model.StatusHigh
	case coverage > 10:
		return model.StatusModerate
	default:
		return model.StatusLow
	}
}

// Analyze 对栅格执行完整的水体提取与藻类分类流程
func Analyze(r *Raster, classifier Classifier) (*Analysis, error) {
	if len(r.Pix) != r.Width*r.Height*3 {
		return nil, fmt.Errorf("%w: raster has %d bytes, want %d", ErrDecode, len(r.Pix), r.Width*r.Height*3)
	}

	red, green, _ := r.Bands()
	ndwi := NormalizedDiff(green, SyntheticNIR(red))
	water := WaterMask(ndwi)

	size := r.Width * r.Height
	features, positions := WaterFeatures(r, water)

	var algae []bool
	if len(features) == 0 {
		algae = make([]bool, size)
	} else {
		labels, err := classifier.Predict(features)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrClassifier, err)
		}
		if len(labels) != len(features) {
			return nil, fmt.Errorf("%w: got %d labels for %d pixels", ErrClassifier, len(labels), len(features))
		}
		algae = ScatterPredictions(size, positions, labels)
	}

	coverage, algaeCount, waterCount := CoverageOf(algae, water)

	return &Analysis{
		Width:       r.Width,
		Height:      r.Height,
		Water:       water,
		Algae:       algae,
		WaterPixels: waterCount,
		AlgaePixels: algaeCount,
		Coverage:    coverage,
		Status:      StatusFor(coverage),
	}, nil
}
