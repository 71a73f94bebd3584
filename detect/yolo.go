package detect

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

const (
	// DefaultConfThresh is the default confidence threshold detections
	// must score above to be kept
	DefaultConfThresh = 0.6
	// DefaultNMSThresh is the default Non-Maximum Suppression overlap
	// threshold used to discard duplicate boxes
	DefaultNMSThresh = 0.45
	// DefaultInputSize is the default square size in pixels frames are
	// scaled to for the model input blob
	DefaultInputSize = 640
)

// Engine is the object detection capability the pipeline runs frames
// through.  Implementations must be safe for invocation from multiple
// goroutines
type Engine interface {
	// Detect runs object detection on the given frame and returns the
	// detections found.  Track ids are not assigned here, temporal
	// association is the tracking context's job
	Detect(img gocv.Mat) ([]Detection, error)
	// Close releases resources held by the engine
	Close() error
}

// ModelFiles holds the paths of the files that make up a detection model
type ModelFiles struct {
	// Weights is the model weights file
	Weights string
	// Config is the network configuration file
	Config string
	// Names is the text file of class labels, one per line
	Names string
}

// YOLONet is an Engine backed by a YOLO family model run through the
// OpenCV DNN module.  Model weights are loaded once at creation, a
// single YOLONet may be shared across concurrent jobs
type YOLONet struct {
	net    gocv.Net
	labels []string
	// inputSize is the square model input size in pixels
	inputSize int
	// confThresh is the minimum confidence for keeping a detection
	confThresh float32
	// nmsThresh is the NMS overlap threshold
	nmsThresh float32
	mu        sync.Mutex
}

// NewYOLONet loads the model files and returns an engine ready for
// inference
func NewYOLONet(files ModelFiles, inputSize int, confThresh float32) (*YOLONet, error) {

	net := gocv.ReadNet(files.Weights, files.Config)

	if net.Empty() {
		return nil, fmt.Errorf("error loading network from %s", files.Weights)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	labels, err := LoadLabels(files.Names)

	if err != nil {
		net.Close()
		return nil, fmt.Errorf("error loading model labels: %w", err)
	}

	if inputSize <= 0 {
		inputSize = DefaultInputSize
	}

	if confThresh <= 0 {
		confThresh = DefaultConfThresh
	}

	return &YOLONet{
		net:        net,
		labels:     labels,
		inputSize:  inputSize,
		confThresh: confThresh,
		nmsThresh:  DefaultNMSThresh,
	}, nil
}

// Labels returns the class labels the model was trained on
func (y *YOLONet) Labels() []string {
	return y.labels
}

// Detect implements the Engine interface
func (y *YOLONet) Detect(img gocv.Mat) ([]Detection, error) {
	y.mu.Lock()
	defer y.mu.Unlock()

	if img.Empty() {
		return nil, fmt.Errorf("empty input frame")
	}

	// scale frame into square model input blob
	blob := gocv.BlobFromImage(img, 1.0/255.0,
		image.Pt(y.inputSize, y.inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.net.SetInput(blob, "")

	output := y.net.Forward("")
	defer output.Close()

	frameW := float32(img.Cols())
	frameH := float32(img.Rows())

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int

	// each output row is [cx, cy, w, h, objectness, class scores...]
	// in coordinates normalised to the model input
	for i := 0; i < output.Rows(); i++ {

		row := output.RowRange(i, i+1)
		data := row.Clone()

		objectness := data.GetFloatAt(0, 4)

		classScores := data.ColRange(5, data.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(classScores)

		confidence := objectness * float32(maxVal)
		classID := maxLoc.X

		if confidence >= y.confThresh && classID < len(y.labels) {

			// convert centre/size to corner coordinates in the source
			// frame resolution
			cx := data.GetFloatAt(0, 0) * frameW
			cy := data.GetFloatAt(0, 1) * frameH
			w := data.GetFloatAt(0, 2) * frameW
			h := data.GetFloatAt(0, 3) * frameH

			left := int(cx - w/2)
			top := int(cy - h/2)

			boxes = append(boxes, image.Rect(left, top, left+int(w), top+int(h)))
			scores = append(scores, confidence)
			classIDs = append(classIDs, classID)
		}

		classScores.Close()
		data.Close()
		row.Close()
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	// suppress duplicate boxes of the same object
	indices := gocv.NMSBoxes(boxes, scores, y.confThresh, y.nmsThresh)

	detections := make([]Detection, 0, len(indices))

	for _, idx := range indices {
		rect := boxes[idx]

		detections = append(detections, Detection{
			Class:      y.labels[classIDs[idx]],
			Confidence: RoundConf(float64(scores[idx])),
			Box: NewBox(float64(rect.Min.X), float64(rect.Min.Y),
				float64(rect.Max.X), float64(rect.Max.Y)),
		})
	}

	return detections, nil
}

// Close implements the Engine interface
func (y *YOLONet) Close() error {
	return y.net.Close()
}
