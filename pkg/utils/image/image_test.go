package image

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func TestThumbnail(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for x := 0; x < 640; x++ {
		src.Set(x, x%480, color.RGBA{G: 255, A: 255})
	}
	var buf bytes.Buffer
	checkErr(t, EncodeJPEG(src, &buf, 90))

	testCases := []struct {
		width      int
		wantWidth  int
		wantHeight int
	}{
		{320, 320, 240},
		{100, 100, 75},
		{0, 640, 480},
		{1280, 640, 480},
	}
	for _, tc := range testCases {
		out, err := Thumbnail(buf.Bytes(), tc.width)
		checkErr(t, err)
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
		checkErr(t, err)
		if cfg.Width != tc.wantWidth || cfg.Height != tc.wantHeight {
			t.Errorf("Thumbnail(%d) = %dx%d, want %dx%d", tc.width, cfg.Width, cfg.Height, tc.wantWidth, tc.wantHeight)
		}
	}
}

func TestThumbnailNotJPEG(t *testing.T) {
	if _, err := Thumbnail([]byte("not a jpeg"), 100); err == nil {
		t.Fatal("expected a decode error")
	}
}

func checkErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
