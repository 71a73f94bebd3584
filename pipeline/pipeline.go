// Package pipeline runs one uploaded video through the detector frame
// by frame, writes the annotated output video and streams detection and
// progress events to the job's room.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"trackcast/detect"
	"trackcast/events"
	"trackcast/metrics"
	"trackcast/render"
	"trackcast/store"
	"trackcast/track"
)

const (
	// DefaultSkipInterval is the stride at which frames are sent to the
	// detector, intermediate frames pass through unannotated
	DefaultSkipInterval = 2
	// DefaultProgressInterval is the frame index stride progress events
	// are emitted at
	DefaultProgressInterval = 30
	// outputCodec produces a web playable webm container
	outputCodec = "VP90"
)

// Publisher is the event delivery capability the pipeline emits through
type Publisher interface {
	Publish(room, event string, payload interface{}) error
}

// Job is the in-memory state of one video processing request.  It is
// owned exclusively by the pipeline run processing it and destroyed
// when that run terminates
type Job struct {
	ID             string
	SessionID      string
	Filename       string
	ResultFilename string
	ResultPath     string
	SourcePath     string
	ResultDir      string

	Meta Meta
	// Processed counts frames sent through the detector
	Processed int

	Tracker *track.IOUTracker
	Tracks  *track.Aggregator
}

// NewJob returns a Job with a fresh id and its own isolated tracking
// context so track ids never collide across concurrent jobs
func NewJob(sessionID, filename, resultFilename, sourcePath, resultDir string) *Job {
	return &Job{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Filename:       filename,
		ResultFilename: resultFilename,
		SourcePath:     sourcePath,
		ResultDir:      resultDir,
		Tracker:        track.NewIOUTracker(track.DefaultIOUThreshold, track.DefaultMaxLost),
		Tracks:         track.NewAggregator(),
	}
}

// Runner executes frame pipelines.  The engine pool and hub are shared
// across all jobs, everything per job lives on the Job
type Runner struct {
	Pool    *detect.Pool
	Hub     Publisher
	Metrics *metrics.Metrics

	SkipInterval     int
	ProgressInterval int
	Font             render.Font
}

// NewRunner returns a runner with default intervals
func NewRunner(pool *detect.Pool, hub Publisher, m *metrics.Metrics) *Runner {
	return &Runner{
		Pool:             pool,
		Hub:              hub,
		Metrics:          m,
		SkipInterval:     DefaultSkipInterval,
		ProgressInterval: DefaultProgressInterval,
		Font:             render.DefaultFont(),
	}
}

// Run processes the job to completion or failure.  It has no observable
// return, every outcome is published to the job's room and exactly one
// terminal event ends the stream.  Failures never propagate past this
// boundary
func (r *Runner) Run(ctx context.Context, job *Job) {

	log := logrus.WithFields(logrus.Fields{
		"job":     job.ID,
		"session": job.SessionID,
	})

	r.Metrics.ActiveJobs.Inc()
	defer r.Metrics.ActiveJobs.Dec()

	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("pipeline panic: %v", rec)
			r.fail(job, fmt.Errorf("internal pipeline error: %v", rec))
		}
	}()

	if err := r.process(ctx, job, log); err != nil {
		log.WithError(err).Error("video processing failed")
		r.fail(job, err)
		return
	}

	log.WithFields(logrus.Fields{
		"processed": job.Processed,
		"tracks":    job.Tracks.Len(),
	}).Info("video processing complete")

	r.Metrics.JobsCompleted.Inc()

	r.Hub.Publish(job.SessionID, events.JobCompleted, events.CompletedPayload{
		Filename:       job.Filename,
		ResultFilename: job.ResultFilename,
		ResultPath:     job.ResultPath,
		UniqueTracks:   job.Tracks.Len(),
		Tracks:         job.Tracks.Snapshot(),
		Message: fmt.Sprintf("Processing complete. %d unique tracks detected.",
			job.Tracks.Len()),
		SessionID: job.SessionID,
	})
}

// fail publishes the terminal failure event
func (r *Runner) fail(job *Job, err error) {
	r.Metrics.JobsFailed.Inc()

	r.Hub.Publish(job.SessionID, events.JobFailed, events.FailedPayload{
		Filename: job.Filename,
		Error:    err.Error(),
	})
}

// process opens the source and output, runs the frame loop and verifies
// the output artifact.  Held resources are released on every path
func (r *Runner) process(ctx context.Context, job *Job, log *logrus.Entry) error {

	cap, err := gocv.VideoCaptureFile(job.SourcePath)

	if err != nil {
		return fmt.Errorf("error opening source video: %w", err)
	}

	job.Meta = probe(cap)

	log.WithFields(logrus.Fields{
		"frames":   job.Meta.FrameCount,
		"fps":      job.Meta.FPS,
		"size":     fmt.Sprintf("%dx%d", job.Meta.Width, job.Meta.Height),
		"duration": job.Meta.Duration,
	}).Info("processing video")

	outPath := filepath.Join(job.ResultDir, job.ResultFilename)

	writer, err := gocv.VideoWriterFile(outPath, outputCodec, job.Meta.FPS,
		job.Meta.Width, job.Meta.Height, true)

	if err != nil {
		cap.Close()
		return fmt.Errorf("error opening output video: %w", err)
	}

	loopErr := r.loop(ctx, job, cap, writer, log)

	// release source and writer defensively even mid failure, the
	// writer must be closed before the output can be verified
	cap.Close()
	writer.Close()

	if loopErr != nil {
		return loopErr
	}

	if !store.Exists(outPath) {
		return fmt.Errorf("failed to create output video file")
	}

	return nil
}

// loop iterates source frames applying the skip policy
func (r *Runner) loop(ctx context.Context, job *Job, cap *gocv.VideoCapture,
	writer *gocv.VideoWriter, log *logrus.Entry) error {

	skip := r.SkipInterval
	if skip < 1 {
		skip = 1
	}

	progressAt := r.ProgressInterval
	if progressAt < 1 {
		progressAt = DefaultProgressInterval
	}

	frame := gocv.NewMat()
	defer frame.Close()

	frameIdx := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("job canceled: %w", ctx.Err())
		default:
		}

		if ok := cap.Read(&frame); !ok {
			break
		}

		if frame.Empty() {
			continue
		}

		frameIdx++

		// enforce the declared frame size and pixel type so irregular
		// frames can not trip engine assertions downstream
		if frame.Cols() != job.Meta.Width || frame.Rows() != job.Meta.Height {
			gocv.Resize(frame, &frame,
				image.Pt(job.Meta.Width, job.Meta.Height), 0, 0,
				gocv.InterpolationLinear)
		}

		if frame.Type() != gocv.MatTypeCV8UC3 {
			frame.ConvertTo(&frame, gocv.MatTypeCV8UC3)
		}

		if frameIdx%skip != 0 {
			// skipped frames pass through unannotated, keeping output
			// frame count parity with the source
			if err := writer.Write(frame); err != nil {
				return fmt.Errorf("error writing frame %d: %w", frameIdx, err)
			}
		} else {
			if err := r.processFrame(job, frame, frameIdx, writer, log); err != nil {
				return err
			}

			job.Processed++
		}

		if frameIdx%progressAt == 0 {
			r.publishProgress(job, frameIdx)
		}
	}

	return nil
}

// processFrame runs detection on one frame, folds results into the
// track summaries, writes the annotated frame and publishes it
func (r *Runner) processFrame(job *Job, frame gocv.Mat, frameIdx int,
	writer *gocv.VideoWriter, log *logrus.Entry) error {

	eng := r.Pool.Get()
	dets, err := eng.Detect(frame)
	r.Pool.Return(eng)

	if err != nil {
		// a single bad frame must not fail the whole video
		log.WithError(err).WithField("frame", frameIdx).
			Warn("detector failed on frame, continuing with zero detections")
		dets = nil
	}

	ts := Timecode(float64(frameIdx) / job.Meta.FPS)

	for i := range dets {
		dets[i].Confidence = detect.RoundConf(dets[i].Confidence)
		dets[i].FrameIndex = frameIdx
		dets[i].Timestamp = ts
	}

	dets = job.Tracker.Assign(dets)

	for _, d := range dets {
		job.Tracks.Upsert(d)
	}

	r.Metrics.FramesProcessed.Inc()
	r.Metrics.Detections.Add(float64(len(dets)))

	// annotate a copy so the raw frame buffer stays pristine for reuse
	annotated := frame.Clone()
	defer annotated.Close()

	render.DetectionBoxes(&annotated, dets, r.Font, 2)

	if err := writer.Write(annotated); err != nil {
		return fmt.Errorf("error writing frame %d: %w", frameIdx, err)
	}

	r.publishFrame(job, annotated, frameIdx, ts, dets)

	return nil
}

// publishFrame emits the frame_detected event with a compressed preview
// of the annotated frame
func (r *Runner) publishFrame(job *Job, annotated gocv.Mat, frameIdx int,
	ts string, dets []detect.Detection) {

	buf, err := gocv.IMEncode(".jpg", annotated)

	if err != nil {
		// preview is best effort, the output artifact already has the
		// annotated frame
		return
	}

	preview := base64.StdEncoding.EncodeToString(buf.GetBytes())
	buf.Close()

	if dets == nil {
		dets = []detect.Detection{}
	}

	r.Hub.Publish(job.SessionID, events.FrameDetected, events.FramePayload{
		FrameIndex:  frameIdx,
		Timestamp:   ts,
		ImageBase64: preview,
		Detections:  dets,
	})

	// yield so delivery can run before the next compute heavy frame
	runtime.Gosched()
}

// publishProgress emits the progress event for the current frame index
func (r *Runner) publishProgress(job *Job, frameIdx int) {

	var percent float64

	if job.Meta.FrameCount > 0 {
		percent = float64(frameIdx) / float64(job.Meta.FrameCount) * 100
	}

	r.Hub.Publish(job.SessionID, events.Progress, events.ProgressPayload{
		Progress:        math.Round(percent*10) / 10,
		FrameIndex:      frameIdx,
		ProcessedFrames: job.Processed,
		TotalFrames:     job.Meta.FrameCount,
		SessionID:       job.SessionID,
	})

	runtime.Gosched()
}
