// Package yolo implements vision.Detector with a YOLOv8 ONNX model on the
// OpenCV DNN module. The model knows the 80 COCO classes; prompts are
// matched against class names.
package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-neurobridge/pkg/vision"
)

// Config configures the detector.
type Config struct {
	ModelPath        string  `yaml:"model_path"`
	ConfidenceThresh float32 `yaml:"confidence"`
	NMSThresh        float32 `yaml:"nms"`
	InputWidth       int     `yaml:"input_width"`
	InputHeight      int     `yaml:"input_height"`
}

// DefaultConfig suits yolov8n exported at 640x640.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.4,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// padColor is the gray YOLOv8 was trained with around letterboxed images.
var padColor = color.RGBA{R: 114, G: 114, B: 114}

// Detector runs the network one frame at a time; gocv.Net is not safe
// for concurrent use.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	net gocv.Net
}

var _ vision.Detector = (*Detector)(nil)

// New loads the model at cfg.ModelPath onto the CPU backend.
func New(cfg Config, logger *slog.Logger) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("yolo model: %w", err)
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		return nil, fmt.Errorf("yolo input size %dx%d", cfg.InputWidth, cfg.InputHeight)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("yolo model %s: not a loadable ONNX network", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:    cfg,
		net:    net,
		logger: logger.With("component", "vision.yolo"),
	}, nil
}

// DetectObjects returns the detections whose class matches prompt.
func (d *Detector) DetectObjects(ctx context.Context, frame []byte, prompt string) ([]vision.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, errors.New("decode frame: empty image")
	}

	lb := fitLetterbox(img.Cols(), img.Rows(), d.cfg.InputWidth, d.cfg.InputHeight)
	input := d.letterboxed(img, lb)
	defer input.Close()

	blob := gocv.BlobFromImage(input, 1.0/255.0, image.Pt(d.cfg.InputWidth, d.cfg.InputHeight), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	cands, err := d.forward(blob, lb)
	if err != nil {
		return nil, err
	}

	var out []vision.Detection
	for _, c := range d.suppress(cands) {
		label := ClassName(c.class)
		if !vision.MatchesPrompt(label, prompt) {
			continue
		}
		out = append(out, vision.Detection{Label: label, Confidence: float64(c.score), Box: c.box})
	}
	d.logger.Debug("detected", "candidates", len(cands), "matched", len(out), "prompt", prompt)
	return out, nil
}

// letterboxed scales img to fit the input and pads the rest.
func (d *Detector) letterboxed(img gocv.Mat, lb letterbox) gocv.Mat {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, lb.scaled(), 0, 0, gocv.InterpolationLinear)

	size := lb.scaled()
	right := d.cfg.InputWidth - size.X - lb.padX
	bottom := d.cfg.InputHeight - size.Y - lb.padY

	out := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &out, lb.padY, bottom, lb.padX, right, gocv.BorderConstant, padColor)
	return out
}

func (d *Detector) forward(blob gocv.Mat, lb letterbox) ([]candidate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	sizes := output.Size()
	if len(sizes) != 3 {
		return nil, fmt.Errorf("yolo output shape %v, want [1 84 N]", sizes)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("yolo output: %w", err)
	}
	return decode(data, sizes[1], sizes[2], d.cfg.ConfidenceThresh, lb), nil
}

// suppress runs non-maximum suppression across all classes.
func (d *Detector) suppress(cands []candidate) []candidate {
	if len(cands) == 0 {
		return nil
	}
	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i], scores[i] = c.box, c.score
	}
	keep := gocv.NMSBoxes(boxes, scores, d.cfg.ConfidenceThresh, d.cfg.NMSThresh)
	out := make([]candidate, 0, len(keep))
	for _, i := range keep {
		out = append(out, cands[i])
	}
	return out
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
