package lilyvoice

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestQueue(player func(Clip) error) *PlaybackQueue {
	q := NewPlaybackQueue(&AudioConfig{
		SampleRate:      24000,
		Channels:        1,
		FramesPerBuffer: 1024,
	}, nil)
	q.player = player
	return q
}

func TestPlaybackSerialization(t *testing.T) {
	var mu sync.Mutex
	var order []byte
	var concurrent, maxConcurrent int64

	q := newTestQueue(func(clip Clip) error {
		if n := atomic.AddInt64(&concurrent, 1); n > atomic.LoadInt64(&maxConcurrent) {
			atomic.StoreInt64(&maxConcurrent, n)
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, clip.Data[0])
		mu.Unlock()
		atomic.AddInt64(&concurrent, -1)
		return nil
	})

	const n = 8
	for i := 0; i < n; i++ {
		q.Enqueue([]byte{byte(i), 0x00})
	}

	if !waitFor(t, 2*time.Second, func() bool { return !q.IsPlaying() }) {
		t.Fatal("queue never drained")
	}

	if atomic.LoadInt64(&maxConcurrent) != 1 {
		t.Errorf("clips overlapped: max concurrency %d", maxConcurrent)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != n {
		t.Fatalf("played %d clips, want %d", len(order), n)
	}
	for i := 0; i < n; i++ {
		if order[i] != byte(i) {
			t.Errorf("clip %d played out of order: got %d", i, order[i])
		}
	}
}

func TestPlaybackContinuesAfterFault(t *testing.T) {
	var mu sync.Mutex
	var played []byte

	q := newTestQueue(func(clip Clip) error {
		mu.Lock()
		played = append(played, clip.Data[0])
		mu.Unlock()
		if clip.Data[0] == 1 {
			return NewClientError("decode failed", ErrCodePlaybackFault)
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		q.Enqueue([]byte{byte(i), 0x00})
	}

	if !waitFor(t, 2*time.Second, func() bool { return !q.IsPlaying() }) {
		t.Fatal("queue never drained")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(played) != 3 {
		t.Errorf("a playback fault halted the queue: played %d of 3 clips", len(played))
	}
}

func TestPlayingSignal(t *testing.T) {
	release := make(chan struct{})
	q := newTestQueue(func(Clip) error {
		<-release
		return nil
	})

	var mu sync.Mutex
	var transitions []bool
	q.SubscribePlaying(func(playing bool) {
		mu.Lock()
		transitions = append(transitions, playing)
		mu.Unlock()
	})

	if q.IsPlaying() {
		t.Fatal("idle queue reports playing")
	}

	q.Enqueue([]byte{0x00, 0x00})
	if !q.IsPlaying() {
		t.Error("queue with a clip does not report playing")
	}
	close(release)

	if !waitFor(t, 2*time.Second, func() bool { return !q.IsPlaying() }) {
		t.Fatal("queue never drained")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Errorf("expected [true false] transitions, got %v", transitions)
	}
}

func TestSubscribePlayingUnsubscribe(t *testing.T) {
	q := newTestQueue(func(Clip) error { return nil })

	var calls int64
	unsubscribe := q.SubscribePlaying(func(bool) {
		atomic.AddInt64(&calls, 1)
	})
	unsubscribe()

	q.Enqueue([]byte{0x00, 0x00})
	waitFor(t, time.Second, func() bool { return !q.IsPlaying() })

	if atomic.LoadInt64(&calls) != 0 {
		t.Errorf("unsubscribed handler invoked %d times", calls)
	}
}

func makeWAV(sampleRate int, samples []int16) []byte {
	data := make([]byte, wavHeaderSize+len(samples)*2)
	copy(data[0:4], "RIFF")
	binary.LittleEndian.PutUint32(data[4:8], uint32(36+len(samples)*2))
	copy(data[8:12], "WAVE")
	copy(data[12:16], "fmt ")
	binary.LittleEndian.PutUint32(data[16:20], 16)
	binary.LittleEndian.PutUint16(data[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(data[22:24], 1) // mono
	binary.LittleEndian.PutUint32(data[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(data[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(data[32:34], 2)
	binary.LittleEndian.PutUint16(data[34:36], 16)
	copy(data[36:40], "data")
	binary.LittleEndian.PutUint32(data[40:44], uint32(len(samples)*2))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[wavHeaderSize+i*2:], uint16(s))
	}
	return data
}

func TestSniffClipFormat(t *testing.T) {
	if got := sniffClipFormat(makeWAV(24000, []int16{1, 2})); got != ClipFormatWAV {
		t.Errorf("wav payload sniffed as %s", got)
	}
	if got := sniffClipFormat([]byte{0x01, 0x02, 0x03, 0x04}); got != ClipFormatPCM16 {
		t.Errorf("raw payload sniffed as %s", got)
	}
	if got := sniffClipFormat(nil); got != ClipFormatPCM16 {
		t.Errorf("empty payload sniffed as %s", got)
	}
}

func TestDecodeClip(t *testing.T) {
	wav := makeWAV(16000, []int16{100, -100, 3000})
	samples, rate, err := decodeClip(Clip{Data: wav, Format: ClipFormatWAV}, 24000)
	if err != nil {
		t.Fatalf("decodeClip: %v", err)
	}
	if rate != 16000 {
		t.Errorf("sample rate %d, want 16000", rate)
	}
	if len(samples) != 3 || samples[0] != 100 || samples[1] != -100 || samples[2] != 3000 {
		t.Errorf("samples mangled: %v", samples)
	}

	raw := pcm16Bytes([]int16{7, -7})
	samples, rate, err = decodeClip(Clip{Data: raw, Format: ClipFormatPCM16}, 24000)
	if err != nil {
		t.Fatalf("decodeClip raw: %v", err)
	}
	if rate != 24000 {
		t.Errorf("raw clip should use the default rate, got %d", rate)
	}
	if len(samples) != 2 || samples[0] != 7 || samples[1] != -7 {
		t.Errorf("raw samples mangled: %v", samples)
	}

	if _, _, err := decodeClip(Clip{Data: []byte("RIFF"), Format: ClipFormatWAV}, 24000); err == nil {
		t.Error("truncated wav clip did not error")
	}
}
