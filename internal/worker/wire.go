package worker

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Youri-program/radarzuyd/internal/types"
)

// Wire structs for the subprocess protocol. Field names are the
// contract with the Python side; keep them in sync with run_worker.py.

type frameEnvelope struct {
	FrameData []byte    `msgpack:"frame_data"`
	Width     int       `msgpack:"width"`
	Height    int       `msgpack:"height"`
	Meta      frameMeta `msgpack:"meta"`
}

type frameMeta struct {
	DeviceID  string `msgpack:"device_id"`
	Seq       uint64 `msgpack:"seq"`
	Timestamp string `msgpack:"timestamp"`
	TraceID   string `msgpack:"trace_id"`
}

type resultEnvelope struct {
	Data   resultData   `msgpack:"data"`
	Timing resultTiming `msgpack:"timing"`
}

type resultData struct {
	Detections  []wireDetection `msgpack:"detections"`
	PersonCount int             `msgpack:"person_count"`
	FrameSeq    uint64          `msgpack:"frame_seq"`
	TraceID     string          `msgpack:"trace_id"`
	FrameWidth  int             `msgpack:"frame_width"`
	FrameHeight int             `msgpack:"frame_height"`
}

type wireDetection struct {
	X1         int     `msgpack:"x1"`
	Y1         int     `msgpack:"y1"`
	X2         int     `msgpack:"x2"`
	Y2         int     `msgpack:"y2"`
	Confidence float64 `msgpack:"confidence"`
	ClassID    int     `msgpack:"class_id"`
}

type resultTiming struct {
	TotalMS     float64 `msgpack:"total_ms"`
	InferenceMS float64 `msgpack:"inference_ms"`
}

// decodeResult unpacks one result envelope and filters its detections to
// classID at or above the confidence floor. The model may emit other
// classes when run with filtering disabled; they never reach tracking.
func decodeResult(data []byte, classID int, confidence float64) (*Result, error) {
	var env resultEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}

	detections := make([]types.Detection, 0, len(env.Data.Detections))
	for _, d := range env.Data.Detections {
		if d.ClassID != classID || d.Confidence < confidence {
			continue
		}
		detections = append(detections, types.Detection{
			X1:         d.X1,
			Y1:         d.Y1,
			X2:         d.X2,
			Y2:         d.Y2,
			Confidence: d.Confidence,
			ClassID:    d.ClassID,
		})
	}

	return &Result{
		FrameSeq:    env.Data.FrameSeq,
		TraceID:     env.Data.TraceID,
		FrameWidth:  env.Data.FrameWidth,
		FrameHeight: env.Data.FrameHeight,
		Detections:  detections,
		PersonCount: len(detections),
		TotalMS:     env.Timing.TotalMS,
		InferenceMS: env.Timing.InferenceMS,
	}, nil
}
