package extractor

import (
	"io"
	"time"
)

// Progress is a snapshot of an in-flight download.
type Progress struct {
	Filename         string
	BytesTransferred int64
	TotalBytes       int64 // -1 when the host sent no content length
	MBPerSecond      float64
}

// ProgressFunc receives periodic progress notifications. It runs on the
// download goroutine, so it should not block.
type ProgressFunc func(Progress)

// progressWriter counts bytes through to dst and reports at most once per
// interval rather than on every chunk.
type progressWriter struct {
	dst      io.Writer
	filename string
	total    int64
	written  int64
	interval time.Duration
	report   ProgressFunc
	started  time.Time
	last     time.Time
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.written += int64(n)

	if w.report != nil && time.Since(w.last) >= w.interval {
		w.last = time.Now()
		elapsed := time.Since(w.started).Seconds()
		var rate float64
		if elapsed > 0 {
			rate = float64(w.written) / (1024 * 1024) / elapsed
		}
		w.report(Progress{
			Filename:         w.filename,
			BytesTransferred: w.written,
			TotalBytes:       w.total,
			MBPerSecond:      rate,
		})
	}
	return n, err
}
