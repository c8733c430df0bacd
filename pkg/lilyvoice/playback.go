package lilyvoice

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// wavHeaderSize is the canonical PCM WAV header length; backend clips
// either carry exactly this header or arrive as raw PCM16.
const wavHeaderSize = 44

// PlaybackQueue plays backend-delivered audio clips strictly one at a
// time, in arrival order. A clip that fails to decode or play is discarded
// and the queue moves on.
type PlaybackQueue struct {
	cfg *AudioConfig
	log *Logger

	// player is swapped out in tests; the default plays through PortAudio.
	player func(Clip) error

	mu      sync.Mutex
	queue   []Clip
	playing bool

	subs    map[int]PlayingHandler
	nextSub int
}

func NewPlaybackQueue(cfg *AudioConfig, logger *Logger) *PlaybackQueue {
	if cfg == nil {
		cfg = NewAudioConfig()
	}
	if logger == nil {
		logger = GetGlobalLogger()
	}
	q := &PlaybackQueue{
		cfg:  cfg,
		log:  logger.WithComponent("Playback"),
		subs: make(map[int]PlayingHandler),
	}
	q.player = q.playClip
	return q
}

// Enqueue wraps a binary frame as a clip and queues it. Playback begins
// immediately if nothing is playing.
func (q *PlaybackQueue) Enqueue(data []byte) {
	clip := Clip{
		Data:       data,
		Format:     sniffClipFormat(data),
		ReceivedAt: time.Now(),
	}

	q.mu.Lock()
	q.queue = append(q.queue, clip)
	start := !q.playing
	if start {
		q.playing = true
	}
	depth := len(q.queue)
	q.mu.Unlock()

	q.log.LogAudioEvent("clip_enqueued", map[string]interface{}{
		"bytes":  len(data),
		"format": string(clip.Format),
		"depth":  depth,
	})

	if start {
		q.notify(true)
		go q.drain()
	}
}

// drain is the single playback worker; exactly one runs while the queue is
// non-empty, which is what keeps clips from overlapping.
func (q *PlaybackQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.playing = false
			q.mu.Unlock()
			q.notify(false)
			return
		}
		clip := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		q.log.LogAudioEvent("clip_started", map[string]interface{}{
			"bytes":  len(clip.Data),
			"format": string(clip.Format),
		})
		if err := q.player(clip); err != nil {
			q.log.LogClientError(WrapError(err, ErrCodePlaybackFault))
		}
	}
}

// IsPlaying reports whether a clip is currently playing or queued.
func (q *PlaybackQueue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// QueueLength returns the number of clips waiting behind the current one.
func (q *PlaybackQueue) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// SubscribePlaying registers a listener for playing-state changes and
// returns its unsubscribe func.
func (q *PlaybackQueue) SubscribePlaying(h PlayingHandler) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = h
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.subs, id)
	}
}

func (q *PlaybackQueue) notify(playing bool) {
	q.mu.Lock()
	handlers := make([]PlayingHandler, 0, len(q.subs))
	for _, h := range q.subs {
		handlers = append(handlers, h)
	}
	q.mu.Unlock()

	for _, h := range handlers {
		h(playing)
	}
}

// playClip decodes the clip and plays it through the default output
// device, blocking until the samples have drained.
func (q *PlaybackQueue) playClip(clip Clip) error {
	samples, sampleRate, err := decodeClip(clip, q.cfg.SampleRate)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return err
	}
	defer portaudio.Terminate()

	done := make(chan struct{}, 1)
	index := 0
	var cbMu sync.Mutex

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate),
		q.cfg.FramesPerBuffer, func(out []int16) {
			cbMu.Lock()
			defer cbMu.Unlock()
			for i := range out {
				if index < len(samples) {
					out[i] = samples[index]
					index++
				} else {
					out[i] = 0
				}
			}
			if index >= len(samples) {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		})
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return err
	}

	// Allow half again the nominal duration before giving up on the
	// stream callback.
	duration := time.Duration(float64(len(samples)) / float64(sampleRate) * 1.5 * float64(time.Second))
	select {
	case <-done:
	case <-time.After(duration):
		q.log.Warn("Clip playback timed out")
	}

	return stream.Stop()
}

// decodeClip converts a clip payload into PCM16 samples. WAV clips carry
// their own sample rate; raw clips use the configured default.
func decodeClip(clip Clip, defaultRate int) ([]int16, int, error) {
	data := clip.Data
	sampleRate := defaultRate

	if clip.Format == ClipFormatWAV {
		if len(data) < wavHeaderSize {
			return nil, 0, NewClientError("truncated wav clip", ErrCodePlaybackFault)
		}
		sampleRate = int(binary.LittleEndian.Uint32(data[24:28]))
		if sampleRate <= 0 {
			sampleRate = defaultRate
		}
		data = data[wavHeaderSize:]
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, sampleRate, nil
}

func sniffClipFormat(data []byte) ClipFormat {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return ClipFormatWAV
	}
	return ClipFormatPCM16
}
