package history

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/Youri-program/radarzuyd/internal/types"
)

const jpegQuality = 85

// SnapshotFilename builds the on-disk name for a snapshot image. Rows
// outside a mission use the scan prefix.
func SnapshotFilename(missionID string, now time.Time) string {
	prefix := missionID
	if prefix == "" {
		prefix = "scan"
	}
	return fmt.Sprintf("%s_%d.jpg", prefix, now.UnixMilli())
}

// EncodeFrameJPEG encodes a BGR24 frame as JPEG bytes
func EncodeFrameJPEG(frame types.Frame) ([]byte, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", frame.Width, frame.Height)
	}
	if len(frame.Data) < frame.Width*frame.Height*3 {
		return nil, fmt.Errorf("frame data too short: %d bytes for %dx%d BGR",
			len(frame.Data), frame.Width, frame.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			src := (y*frame.Width + x) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst+0] = frame.Data[src+2]
			img.Pix[dst+1] = frame.Data[src+1]
			img.Pix[dst+2] = frame.Data[src+0]
			img.Pix[dst+3] = 0xFF
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveSnapshot encodes a frame and writes it into the journal directory,
// returning the path recorded in the snapshot row.
func (l *Log) SaveSnapshot(frame types.Frame, filename string) (string, error) {
	data, err := EncodeFrameJPEG(frame)
	if err != nil {
		return "", err
	}

	path := filepath.Join(l.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}
