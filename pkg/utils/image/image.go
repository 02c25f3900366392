package image

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"golang.org/x/image/draw"
)

const DefaultQuality = 80

// Thumbnail decodes a JPEG frame and scales it to width, keeping the aspect
// ratio. Frames narrower than width are returned unchanged.
func Thumbnail(frame []byte, width int) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame err: %w", err)
	}
	b := src.Bounds()
	if width <= 0 || width >= b.Dx() {
		return frame, nil
	}
	height := max(1, b.Dy()*width/b.Dx())

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err = EncodeJPEG(dst, &buf, DefaultQuality); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}
