package yolo

import (
	"image"
	"math"
)

// letterbox maps between the network input and the source image when the
// image is scaled to fit and padded to the input size.
type letterbox struct {
	scale      float32
	padX, padY int
	imgW, imgH int
}

func fitLetterbox(imgW, imgH, inW, inH int) letterbox {
	scale := float32(math.Min(float64(inW)/float64(imgW), float64(inH)/float64(imgH)))
	w := int(math.Round(float64(float32(imgW) * scale)))
	h := int(math.Round(float64(float32(imgH) * scale)))
	return letterbox{
		scale: scale,
		padX:  (inW - w) / 2,
		padY:  (inH - h) / 2,
		imgW:  imgW,
		imgH:  imgH,
	}
}

// scaled is the image size inside the padded input.
func (l letterbox) scaled() image.Point {
	return image.Pt(
		int(math.Round(float64(float32(l.imgW)*l.scale))),
		int(math.Round(float64(float32(l.imgH)*l.scale))),
	)
}

// toImage converts a center-size box in input pixels to image pixels,
// clamped to the image.
func (l letterbox) toImage(cx, cy, w, h float32) image.Rectangle {
	x0 := (cx - w/2 - float32(l.padX)) / l.scale
	y0 := (cy - h/2 - float32(l.padY)) / l.scale
	x1 := (cx + w/2 - float32(l.padX)) / l.scale
	y1 := (cy + h/2 - float32(l.padY)) / l.scale
	r := image.Rect(int(x0), int(y0), int(math.Ceil(float64(x1))), int(math.Ceil(float64(y1))))
	return r.Intersect(image.Rect(0, 0, l.imgW, l.imgH))
}

type candidate struct {
	box   image.Rectangle
	score float32
	class int
}

// decode reads a YOLOv8 output laid out as attrs rows of n columns: four
// box rows (cx, cy, w, h) then one score row per class. Candidates below
// minScore or with an empty box are skipped.
func decode(data []float32, attrs, n int, minScore float32, lb letterbox) []candidate {
	if attrs <= 4 || len(data) < attrs*n {
		return nil
	}
	var out []candidate
	for i := 0; i < n; i++ {
		best, class := float32(0), -1
		for c := 4; c < attrs; c++ {
			if s := data[c*n+i]; s > best {
				best, class = s, c-4
			}
		}
		if class < 0 || best < minScore {
			continue
		}
		box := lb.toImage(data[i], data[n+i], data[2*n+i], data[3*n+i])
		if box.Empty() {
			continue
		}
		out = append(out, candidate{box: box, score: best, class: class})
	}
	return out
}
