package service

import (
	"encoding/binary"
	"fmt"

	"gocv.io/x/gocv"
)

// 掩码配色：Blues 色带两端
var (
	maskLight = [3]uint8{247, 251, 255}
	maskDark  = [3]uint8{8, 48, 107}
)

// ImageCodec 负责图像与栅格之间的编解码
type ImageCodec struct{}

func NewImageCodec() *ImageCodec {
	return &ImageCodec{}
}

// Decode 将图片字节解码为RGB栅格，只接受8位或16位三通道图像
func (ic *ImageCodec) Decode(data []byte) (*Raster, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, fmt.Errorf("%w: unrecognized image format", ErrDecode)
	}
	if img.Channels() != 3 {
		return nil, fmt.Errorf("%w: expected 3 channels, got %d", ErrDecode, img.Channels())
	}

	width := img.Cols()
	height := img.Rows()
	pix := make([]uint8, width*height*3)

	// OpenCV 按 BGR 顺序存储
	switch img.Type() {
	case gocv.MatTypeCV8UC3:
		bgr := img.ToBytes()
		for i := 0; i < width*height; i++ {
			pix[i*3] = bgr[i*3+2]
			pix[i*3+1] = bgr[i*3+1]
			pix[i*3+2] = bgr[i*3]
		}
	case gocv.MatTypeCV16UC3:
		// 16位图像只保留高字节
		bgr := img.ToBytes()
		for i := 0; i < width*height; i++ {
			pix[i*3] = highByte(bgr, i*3+2)
			pix[i*3+1] = highByte(bgr, i*3+1)
			pix[i*3+2] = highByte(bgr, i*3)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported %s depth with 3 channels", ErrDecode, depthName(img.Type()))
	}

	return &Raster{Width: width, Height: height, Pix: pix}, nil
}

// highByte 取第 i 个16位样本的高8位
func highByte(data []byte, i int) uint8 {
	return uint8(binary.NativeEndian.Uint16(data[i*2:]) >> 8)
}

func depthName(mt gocv.MatType) string {
	switch int(mt) & 7 {
	case 0:
		return "8-bit unsigned"
	case 1:
		return "8-bit signed"
	case 2:
		return "16-bit unsigned"
	case 3:
		return "16-bit signed"
	case 4:
		return "32-bit signed"
	case 5:
		return "32-bit float"
	case 6:
		return "64-bit float"
	default:
		return "unknown"
	}
}

// EncodeMask 将布尔掩码渲染为PNG，每个像素对应一个掩码单元，无边距
func (ic *ImageCodec) EncodeMask(mask []bool, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 || len(mask) != width*height {
		return nil, fmt.Errorf("%w: mask of %d cells does not fit %dx%d", ErrRender, len(mask), width, height)
	}

	bgr := make([]uint8, width*height*3)
	for i, v := range mask {
		c := maskLight
		if v {
			c = maskDark
		}
		bgr[i*3] = c[2]
		bgr[i*3+1] = c[1]
		bgr[i*3+2] = c[0]
	}

	img, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, bgr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	defer img.Close()

	data, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	defer data.Close()

	return data.GetBytes(), nil
}
