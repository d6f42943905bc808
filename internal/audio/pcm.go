package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PCMConfig configures the GStreamer-backed channel.
type PCMConfig struct {
	GStreamerBin string
	SampleRate   int
	Channels     int
}

func (c PCMConfig) rate() int {
	if c.SampleRate <= 0 {
		return 44100
	}
	return c.SampleRate
}

func (c PCMConfig) channels() int {
	if c.Channels <= 0 {
		return 2
	}
	return c.Channels
}

func (c PCMConfig) bytesPerSecond() int {
	return c.rate() * c.channels() * 2
}

// PCMChannel decodes media to S16LE PCM using a GStreamer subprocess and
// writes gain-adjusted frames into a GStreamer sink subprocess. Volume is
// applied sample by sample in Go, which keeps runtime volume control out of
// the decode pipeline.
type PCMChannel struct {
	cfg    PCMConfig
	logger zerolog.Logger

	mu       sync.Mutex
	dec      *decoderProc
	sink     *sinkProc
	path     string
	volume   float64
	playing  bool
	paused   bool
	consumed int64 // bytes written to the sink for the current track
	onEnded  func()
	closing  bool

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

type decoderProc struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc
}

type sinkProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
}

// NewPCMChannel creates the channel. The sink pipeline starts lazily on the
// first Play.
func NewPCMChannel(cfg PCMConfig, logger zerolog.Logger) *PCMChannel {
	return &PCMChannel{
		cfg:    cfg,
		logger: logger.With().Str("component", "pcm-channel").Logger(),
		volume: 1.0,
	}
}

// Load prepares a track at position zero, replacing any current track.
// ctx bounds the load itself; the decoder it starts is owned by the channel
// and keeps running after the caller returns.
func (c *PCMChannel) Load(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("load cancelled: %w", err)
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat track: %w", err)
	}

	c.stopDecoderLocked()

	dec, err := c.startDecoder(path)
	if err != nil {
		return err
	}

	c.dec = dec
	c.path = path
	c.consumed = 0
	c.playing = false
	c.paused = false
	return nil
}

// Seek discards decoded PCM up to the offset. Only valid before Play.
func (c *PCMChannel) Seek(offset time.Duration) error {
	c.mu.Lock()
	dec := c.dec
	playing := c.playing
	c.mu.Unlock()

	if dec == nil {
		return ErrNoTrack
	}
	if playing {
		return fmt.Errorf("seek while playing is not supported")
	}
	if offset <= 0 {
		return nil
	}

	frameBytes := c.frameBytes()
	total := int64(offset.Seconds() * float64(c.cfg.bytesPerSecond()))
	total -= total % int64(frameBytes)

	buf := make([]byte, frameBytes)
	var discarded int64
	for discarded < total {
		if err := readFrame(dec.stdout, buf); err != nil {
			return fmt.Errorf("seek past end of track: %w", err)
		}
		discarded += int64(frameBytes)
	}

	c.mu.Lock()
	c.consumed = discarded
	c.mu.Unlock()
	return nil
}

// Play starts or resumes pumping frames to the sink.
func (c *PCMChannel) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrChannelClosed
	}
	if c.dec == nil {
		return ErrNoTrack
	}

	if c.pumpDone != nil {
		c.paused = false
		c.playing = true
		return nil
	}

	if c.sink == nil {
		sink, err := c.startSink()
		if err != nil {
			return err
		}
		c.sink = sink
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.pumpCancel = cancel
	c.pumpDone = make(chan struct{})
	c.playing = true
	c.paused = false

	go c.pump(ctx, c.pumpDone)
	return nil
}

// Pause halts frame pumping without releasing the decoder, so Position is
// preserved and Play continues from the same point.
func (c *PCMChannel) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dec == nil {
		return ErrNoTrack
	}
	c.paused = true
	c.playing = false
	return nil
}

// Stop releases the current track.
func (c *PCMChannel) Stop() error {
	c.mu.Lock()
	cancel := c.pumpCancel
	done := c.pumpDone
	dec := c.dec
	c.pumpCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// A pump blocked mid-read only notices the cancellation once the read
	// returns, so close its input before waiting.
	if dec != nil && dec.stdout != nil {
		_ = dec.stdout.Close()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopDecoderLocked()
	c.path = ""
	c.consumed = 0
	c.playing = false
	c.paused = false
	c.pumpDone = nil
	return nil
}

// SetVolume sets the gain applied to subsequent frames.
func (c *PCMChannel) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()
}

// Volume returns the current gain.
func (c *PCMChannel) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Position reports how much of the track has been played.
func (c *PCMChannel) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(float64(c.consumed) / float64(c.cfg.bytesPerSecond()) * float64(time.Second))
}

// Playing reports whether frames are currently being pumped.
func (c *PCMChannel) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing && !c.paused
}

// SetOnEnded registers the natural end-of-track callback.
func (c *PCMChannel) SetOnEnded(fn func()) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

// Close stops playback and tears down the sink pipeline.
func (c *PCMChannel) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	_ = c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink != nil {
		_ = c.sink.stop()
		c.sink = nil
	}
	return nil
}

// pump continuously reads frames from the decoder, applies gain, and writes
// to the sink. It exits on context cancellation or decoder EOF.
func (c *PCMChannel) pump(ctx context.Context, done chan struct{}) {
	defer close(done)

	frameBytes := c.frameBytes()
	inBuf := make([]byte, frameBytes)
	outBuf := make([]byte, frameBytes)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		dec := c.dec
		sink := c.sink
		paused := c.paused
		vol := c.volume
		onEnded := c.onEnded
		c.mu.Unlock()

		if dec == nil || sink == nil {
			return
		}
		if paused {
			time.Sleep(25 * time.Millisecond)
			continue
		}

		if err := readFrame(dec.stdout, inBuf); err != nil {
			// Cancellation means a deliberate stop cut the read short,
			// not a track end.
			deliberate := ctx.Err() != nil
			c.mu.Lock()
			c.stopDecoderLocked()
			c.playing = false
			c.pumpDone = nil
			if c.pumpCancel != nil {
				c.pumpCancel()
				c.pumpCancel = nil
			}
			c.mu.Unlock()
			// The callback runs off the pump goroutine so a Stop waiting
			// for the pump to exit can never block behind it.
			if onEnded != nil && !deliberate {
				go onEnded()
			}
			return
		}

		scaleS16LE(inBuf, outBuf, vol)
		if _, err := sink.stdin.Write(outBuf); err != nil {
			c.logger.Error().Err(err).Msg("sink write failed")
			return
		}

		c.mu.Lock()
		c.consumed += int64(frameBytes)
		c.mu.Unlock()
	}
}

// 20ms frames.
func (c *PCMChannel) frameBytes() int {
	frameSamples := c.cfg.rate() / 50
	if frameSamples <= 0 {
		frameSamples = 882
	}
	return frameSamples * c.cfg.channels() * 2
}

func (c *PCMChannel) startDecoder(filePath string) (*decoderProc, error) {
	// Real-time decode to S16LE PCM on stdout. The subprocess runs off a
	// channel-owned context: its lifetime ends when the channel stops it,
	// never when a caller's request context is cancelled.
	args := []string{
		"-e",
		"filesrc", "location=" + filePath,
		"!", "decodebin",
		"!", "audioconvert",
		"!", "audioresample",
		"!", fmt.Sprintf("audio/x-raw,format=S16LE,rate=%d,channels=%d", c.cfg.rate(), c.cfg.channels()),
		"!", "identity", "sync=true",
		"!", "fdsink", "fd=1",
	}

	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, c.cfg.GStreamerBin, args...)
	cmd.Stderr = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decoder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start decoder: %w", err)
	}

	c.logger.Debug().Int("pid", cmd.Process.Pid).Str("path", filePath).Msg("decoder started")

	return &decoderProc{cmd: cmd, stdout: stdout, cancel: cancel}, nil
}

func (c *PCMChannel) startSink() (*sinkProc, error) {
	args := []string{
		"fdsrc", "fd=0",
		"!", "rawaudioparse", "use-sink-caps=false", "format=pcm", "pcm-format=s16le",
		fmt.Sprintf("sample-rate=%d", c.cfg.rate()),
		fmt.Sprintf("num-channels=%d", c.cfg.channels()),
		"!", "audioconvert",
		"!", "audioresample",
		"!", "autoaudiosink",
	}

	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, c.cfg.GStreamerBin, args...)
	cmd.Stderr = nil

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sink stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start sink: %w", err)
	}

	c.logger.Debug().Int("pid", cmd.Process.Pid).Msg("sink started")

	return &sinkProc{cmd: cmd, stdin: stdin, cancel: cancel}, nil
}

func (c *PCMChannel) stopDecoderLocked() {
	if c.dec != nil {
		_ = c.dec.stop()
		c.dec = nil
	}
}

func (d *decoderProc) stop() error {
	if d == nil {
		return nil
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.stdout != nil {
		_ = d.stdout.Close()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
		// Reap, or every stopped decoder lingers as a zombie.
		_ = d.cmd.Wait()
	}
	return nil
}

func (s *sinkProc) stop() error {
	if s == nil {
		return nil
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	return nil
}

func readFrame(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// scaleS16LE applies a gain to signed 16-bit little-endian samples.
// Clamps to [-32768, 32767].
func scaleS16LE(in, out []byte, gain float64) {
	for i := 0; i+1 < len(out); i += 2 {
		s := int16(uint16(in[i]) | uint16(in[i+1])<<8)
		m := int32(float64(s) * gain)
		if m > 32767 {
			m = 32767
		} else if m < -32768 {
			m = -32768
		}
		u := uint16(int16(m))
		out[i] = byte(u & 0xff)
		out[i+1] = byte((u >> 8) & 0xff)
	}
}
