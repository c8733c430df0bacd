package lilyvoice

import (
	"math"
	"sync"
	"time"
)

// ActivityDetector is a lightweight energy-based voice activity detector
// used for UI feedback. It measures RMS deviation from the window mean and
// holds the active flag for a minimum dwell time so the indicator does not
// flicker between windows.
type ActivityDetector struct {
	threshold float64
	hold      time.Duration

	mu             sync.Mutex
	active         bool
	activeUntil    time.Time
	lastTransition time.Time
	level          float64

	now func() time.Time
}

func NewActivityDetector(threshold float64, hold time.Duration) *ActivityDetector {
	return &ActivityDetector{
		threshold: threshold,
		hold:      hold,
		now:       time.Now,
	}
}

// Process consumes one window of time-domain samples and returns the
// resulting activity state.
func (d *ActivityDetector) Process(samples []int16) bool {
	level := rmsLevel(samples)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.level = level
	now := d.now()

	if level > d.threshold {
		if !d.active {
			d.active = true
			d.lastTransition = now
		}
		d.activeUntil = now.Add(d.hold)
	} else if d.active && now.After(d.activeUntil) {
		d.active = false
		d.lastTransition = now
	}

	return d.active
}

// Active returns the current hysteresis-applied activity flag.
func (d *ActivityDetector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Level returns the most recent RMS measurement, normalized to [0, 1].
func (d *ActivityDetector) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// LastTransition returns when the activity flag last flipped.
func (d *ActivityDetector) LastTransition() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTransition
}

// Reset clears internal state.
func (d *ActivityDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.activeUntil = time.Time{}
	d.level = 0
}

// rmsLevel computes the RMS deviation from the window mean, normalized by
// the int16 range. Centering on the mean cancels any DC offset the input
// device adds.
func rmsLevel(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))

	var sumSquares float64
	for _, s := range samples {
		dev := float64(s) - mean
		sumSquares += dev * dev
	}

	return math.Sqrt(sumSquares/float64(len(samples))) / 32768.0
}
