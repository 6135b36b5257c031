package core

import "sync"

const frameAverageCount = 30

// FrameMetrics keeps a rolling frame-time average and the frames counted
// over the last full second.
type FrameMetrics struct {
	mu sync.Mutex

	counter       int
	frameMS       [frameAverageCount]float64
	averageMS     float64
	frames        int
	accumulatedMS float64
	fps           float64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

// Update records one frame that took seconds to produce.
func (m *FrameMetrics) Update(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := seconds * 1000.0
	m.frameMS[m.counter] = ms
	if m.counter == frameAverageCount-1 {
		var sum float64
		for _, v := range m.frameMS {
			sum += v
		}
		m.averageMS = sum / frameAverageCount
	}
	m.counter = (m.counter + 1) % frameAverageCount

	m.frames++
	m.accumulatedMS += ms
	if m.accumulatedMS >= 1000 {
		m.fps = float64(m.frames)
		m.accumulatedMS -= 1000
		m.frames = 0
	}
}

// FPS is the number of frames counted in the last completed second.
func (m *FrameMetrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

// FrameTime is the average frame time in milliseconds over the last
// frameAverageCount frames.
func (m *FrameMetrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.averageMS
}
