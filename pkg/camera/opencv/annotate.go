package opencv

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-neurobridge/pkg/vision"
)

var boxColor = color.RGBA{G: 255, A: 255}

const (
	labelScale     = 0.5
	labelThickness = 1
	boxThickness   = 2
)

// Annotate draws a box and a "label 0.87" caption for each detection on
// a JPEG frame and returns the re-encoded JPEG.
func Annotate(frame []byte, dets []vision.Detection) ([]byte, error) {
	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decode frame: empty image")
	}

	for _, d := range dets {
		if err := gocv.Rectangle(&img, d.Box, boxColor, boxThickness); err != nil {
			return nil, fmt.Errorf("draw box: %w", err)
		}
		caption := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
		if err := gocv.PutText(&img, caption, captionOrigin(d.Box, caption), gocv.FontHersheySimplex, labelScale, boxColor, labelThickness); err != nil {
			return nil, fmt.Errorf("draw label: %w", err)
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// captionOrigin puts the caption above the box, or just inside its top
// edge when the box touches the top of the frame.
func captionOrigin(box image.Rectangle, caption string) image.Point {
	size := gocv.GetTextSize(caption, gocv.FontHersheySimplex, labelScale, labelThickness)
	y := box.Min.Y - 5
	if y < size.Y {
		y = box.Min.Y + size.Y + 5
	}
	return image.Pt(box.Min.X, y)
}
