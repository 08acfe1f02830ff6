package diag

import (
	"github.com/banshee-data/canfd.gateway/internal/canfd"
	"github.com/banshee-data/canfd.gateway/internal/monitoring"
)

// Recorder feeds router events into the diagnostics. It implements
// router.Observer.
type Recorder struct {
	load    *BusLoad
	tap     *Tap
	rawDump bool
}

// NewRecorder wires a recorder. load and tap may be nil. With rawDump set
// every decoded frame is logged, as well as every discarded one.
func NewRecorder(load *BusLoad, tap *Tap, rawDump bool) *Recorder {
	return &Recorder{load: load, tap: tap, rawDump: rawDump}
}

// FrameDecoded updates the bus load and feeds listeners.
func (r *Recorder) FrameDecoded(f canfd.Frame) {
	if r.load != nil {
		r.load.Add(f.Length)
	}
	if r.rawDump {
		monitoring.Logf("%s", FormatRaw(f))
	}
	if r.tap != nil && r.tap.Listeners() > 0 {
		r.tap.Publish(FormatRaw(f))
	}
}

// FrameUnrecognised logs frames that are not sensor data telegrams.
func (r *Recorder) FrameUnrecognised(f canfd.Frame) {
	if r.rawDump {
		// already dumped by FrameDecoded
		return
	}
	monitoring.Debugf("%s", FormatRaw(f))
}

// LineRejected reports a line that failed to decode.
func (r *Recorder) LineRejected(line string, err error) {
	monitoring.Logf("diag: format error of the received data %q: %v", line, err)
}
