package diag

import (
	"sync"
	"time"

	"github.com/banshee-data/canfd.gateway/internal/monitoring"
	"github.com/banshee-data/canfd.gateway/internal/timeutil"
)

// DefaultBusLoadInterval is how often the bus load is reported.
const DefaultBusLoadInterval = 5 * time.Second

// BusLoad accumulates received payload bytes and reports the rate once per
// interval.
type BusLoad struct {
	iface    string
	interval time.Duration
	clock    timeutil.Clock

	mu      sync.Mutex
	pending uint64
	total   uint64
	last    time.Time
	rate    float64
}

// NewBusLoad starts a meter for iface. A non-positive interval uses
// DefaultBusLoadInterval.
func NewBusLoad(iface string, interval time.Duration, clock timeutil.Clock) *BusLoad {
	if interval <= 0 {
		interval = DefaultBusLoadInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &BusLoad{iface: iface, interval: interval, clock: clock, last: clock.Now()}
}

// Add records n received bytes. Once more than one interval has passed since
// the last report it logs the rate in KB/s and starts a new window.
func (b *BusLoad) Add(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending += uint64(n)
	b.total += uint64(n)

	elapsed := b.clock.Since(b.last)
	if elapsed <= b.interval {
		return
	}
	// bytes per millisecond is KB/s
	b.rate = float64(b.pending) / (elapsed.Seconds() * 1000)
	b.pending = 0
	b.last = b.clock.Now()
	monitoring.Logf("Bus load %s: %.1f KB/s", b.iface, b.rate)
}

// Rate returns the rate in KB/s computed at the last report.
func (b *BusLoad) Rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// Total returns every byte recorded since the meter was created.
func (b *BusLoad) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Interface returns the name the meter reports under.
func (b *BusLoad) Interface() string { return b.iface }
