// Package perception implements the deterministic frame and audio
// heuristics: motion from frame differencing, noise from PCM RMS, and the
// rate-limited scene analysis with snapshot retention. Nothing in this
// package touches the network.
package perception

import (
	"bytes"
	"encoding/binary"
	"image"
	"math"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

const (
	// DefaultMotionThreshold is the changed-pixel ratio above which a
	// frame counts as motion.
	DefaultMotionThreshold = 0.05

	// DefaultNoiseThreshold is the RMS level above which an audio frame
	// counts as noise.
	DefaultNoiseThreshold = 500

	// pixelChangeThreshold is the per-pixel intensity delta that marks a
	// pixel as changed.
	pixelChangeThreshold = 25
)

// Detector holds the perception state: the previous greyscale frame,
// thresholds, and the monitoring flag. The previous frame is owned
// exclusively by the detector and replaced on every DetectMotion call.
type Detector struct {
	mu sync.Mutex

	lastFrame       *image.Gray
	motionThreshold float64
	noiseThreshold  float64
	enabled         bool
}

// NewDetector creates a detector with the default thresholds and
// monitoring disabled.
func NewDetector() *Detector {
	return &Detector{
		motionThreshold: DefaultMotionThreshold,
		noiseThreshold:  DefaultNoiseThreshold,
	}
}

// SetMonitoringEnabled toggles the monitoring flag.
func (d *Detector) SetMonitoringEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
	log.Info().Bool("enabled", enabled).Msg("Monitoring toggled")
}

// MonitoringEnabled reports whether monitoring is on.
func (d *Detector) MonitoringEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// SetMotionThreshold sets the changed-pixel ratio threshold, clamped to [0,1].
func (d *Detector) SetMotionThreshold(t float64) {
	d.mu.Lock()
	d.motionThreshold = math.Max(0, math.Min(1, t))
	d.mu.Unlock()
}

// SetNoiseThreshold sets the RMS threshold, clamped to non-negative.
func (d *Detector) SetNoiseThreshold(t float64) {
	d.mu.Lock()
	d.noiseThreshold = math.Max(0, t)
	d.mu.Unlock()
}

// DetectMotion compares frame against the previously seen frame and
// reports whether the changed-pixel ratio exceeds the motion threshold.
// The stored reference is replaced unconditionally, motion or not. The
// first frame after startup (or after a decode failure) is never motion.
func (d *Detector) DetectMotion(frame []byte) (bool, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		d.mu.Lock()
		d.lastFrame = nil
		d.mu.Unlock()
		return false, err
	}
	current := toGray(img)

	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.lastFrame
	d.lastFrame = current

	if prev == nil {
		return false, nil
	}
	if !prev.Bounds().Size().Eq(current.Bounds().Size()) {
		prev = resizeGray(prev, current.Bounds())
	}

	ratio := changedRatio(prev, current)
	motion := ratio > d.motionThreshold
	if motion {
		log.Debug().Float64("ratio", ratio).Msg("Motion detected")
	}
	return motion, nil
}

// DetectNoise interprets pcm as little-endian 16-bit signed samples and
// reports whether their RMS exceeds the noise threshold. Buffers shorter
// than one sample are never noise.
func (d *Detector) DetectNoise(pcm []byte) bool {
	if len(pcm) < 2 {
		return false
	}

	n := len(pcm) / 2
	var sumSquares float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares / float64(n))

	d.mu.Lock()
	threshold := d.noiseThreshold
	d.mu.Unlock()

	noise := rms > threshold
	if noise {
		log.Debug().Float64("rms", rms).Msg("Noise detected")
	}
	return noise
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(b)
	draw.Draw(gray, b, img, b.Min, draw.Src)
	return gray
}

func resizeGray(src *image.Gray, bounds image.Rectangle) *image.Gray {
	dst := image.NewGray(bounds)
	draw.ApproxBiLinear.Scale(dst, bounds, src, src.Bounds(), draw.Src, nil)
	return dst
}

func changedRatio(prev, current *image.Gray) float64 {
	b := current.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	changed := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			diff := int(current.GrayAt(x, y).Y) - int(prev.GrayAt(x, y).Y)
			if diff < 0 {
				diff = -diff
			}
			if diff > pixelChangeThreshold {
				changed++
			}
		}
	}
	return float64(changed) / float64(total)
}
