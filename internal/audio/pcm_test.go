package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestScaleS16LEHalvesSamples(t *testing.T) {
	in := []byte{0x00, 0x10, 0x00, 0xf0} // 4096, -4096
	out := make([]byte, len(in))

	scaleS16LE(in, out, 0.5)

	got1 := int16(uint16(out[0]) | uint16(out[1])<<8)
	got2 := int16(uint16(out[2]) | uint16(out[3])<<8)
	if got1 != 2048 {
		t.Fatalf("expected 2048, got %d", got1)
	}
	if got2 != -2048 {
		t.Fatalf("expected -2048, got %d", got2)
	}
}

func TestScaleS16LEZeroGainSilences(t *testing.T) {
	in := []byte{0xff, 0x7f, 0x01, 0x80} // max, min
	out := make([]byte, len(in))

	scaleS16LE(in, out, 0)

	for i, b := range out {
		if b != 0 {
			t.Fatalf("expected silence at byte %d, got %#x", i, b)
		}
	}
}

func TestScaleS16LEClampsOverflow(t *testing.T) {
	in := []byte{0xff, 0x7f} // 32767
	out := make([]byte, len(in))

	scaleS16LE(in, out, 1.0)

	got := int16(uint16(out[0]) | uint16(out[1])<<8)
	if got != 32767 {
		t.Fatalf("expected clamp at 32767, got %d", got)
	}
}

func TestPCMConfigDefaults(t *testing.T) {
	cfg := PCMConfig{}
	if cfg.rate() != 44100 {
		t.Fatalf("expected default rate 44100, got %d", cfg.rate())
	}
	if cfg.channels() != 2 {
		t.Fatalf("expected default channels 2, got %d", cfg.channels())
	}
	if cfg.bytesPerSecond() != 44100*2*2 {
		t.Fatalf("unexpected bytes per second: %d", cfg.bytesPerSecond())
	}
}

func TestFrameBytesIs20ms(t *testing.T) {
	c := NewPCMChannel(PCMConfig{SampleRate: 48000, Channels: 2}, zerolog.Nop())
	// 48000/50 samples * 2 channels * 2 bytes
	if got := c.frameBytes(); got != 960*2*2 {
		t.Fatalf("unexpected frame size: %d", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	c := NewPCMChannel(PCMConfig{}, zerolog.Nop())
	err := c.Load(context.Background(), filepath.Join(t.TempDir(), "missing.ogg"))
	if err == nil {
		t.Fatal("expected load of missing file to fail")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestOperationsWithoutTrack(t *testing.T) {
	c := NewPCMChannel(PCMConfig{}, zerolog.Nop())
	if err := c.Play(); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("expected ErrNoTrack from Play, got %v", err)
	}
	if err := c.Pause(); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("expected ErrNoTrack from Pause, got %v", err)
	}
	if err := c.Seek(0); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("expected ErrNoTrack from Seek, got %v", err)
	}
}

// fakeDecoderChannel wires a channel around cat subprocesses standing in for
// the decoder and sink, so tests control exactly when decoder output ends.
func fakeDecoderChannel(t *testing.T) (*PCMChannel, io.WriteCloser) {
	t.Helper()
	c := NewPCMChannel(PCMConfig{}, zerolog.Nop())

	decCtx, decCancel := context.WithCancel(context.Background())
	decCmd := exec.CommandContext(decCtx, "cat")
	decIn, err := decCmd.StdinPipe()
	if err != nil {
		t.Fatalf("decoder stdin pipe: %v", err)
	}
	decOut, err := decCmd.StdoutPipe()
	if err != nil {
		t.Fatalf("decoder stdout pipe: %v", err)
	}
	if err := decCmd.Start(); err != nil {
		t.Fatalf("start fake decoder: %v", err)
	}

	sinkCtx, sinkCancel := context.WithCancel(context.Background())
	sinkCmd := exec.CommandContext(sinkCtx, "cat")
	sinkIn, err := sinkCmd.StdinPipe()
	if err != nil {
		t.Fatalf("sink stdin pipe: %v", err)
	}
	sinkCmd.Stdout = io.Discard
	if err := sinkCmd.Start(); err != nil {
		t.Fatalf("start fake sink: %v", err)
	}

	c.mu.Lock()
	c.dec = &decoderProc{cmd: decCmd, stdout: decOut, cancel: decCancel}
	c.sink = &sinkProc{cmd: sinkCmd, stdin: sinkIn, cancel: sinkCancel}
	c.path = "fake"
	c.mu.Unlock()

	t.Cleanup(func() { _ = c.Close() })
	return c, decIn
}

func TestStopReturnsWithoutFiringTrackEnd(t *testing.T) {
	c, _ := fakeDecoderChannel(t)

	ended := make(chan struct{}, 1)
	c.SetOnEnded(func() { ended <- struct{}{} })
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	// Let the pump block on a decoder read before stopping.
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		_ = c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while the pump was mid-read")
	}

	select {
	case <-ended:
		t.Fatal("deliberate stop fired the track-end callback")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNaturalEndFiresCallbackOffPump(t *testing.T) {
	c, decIn := fakeDecoderChannel(t)

	ended := make(chan struct{})
	c.SetOnEnded(func() {
		// Re-entering the channel from the callback must not hang.
		_ = c.Stop()
		close(ended)
	})
	if err := c.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := decIn.Close(); err != nil {
		t.Fatalf("close decoder input: %v", err)
	}

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("track-end callback never fired")
	}
}

func TestLoadDetachesDecoderFromCallerContext(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fakedec")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexec yes\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	track := filepath.Join(dir, "track.ogg")
	if err := os.WriteFile(track, []byte("x"), 0o644); err != nil {
		t.Fatalf("write track: %v", err)
	}

	c := NewPCMChannel(PCMConfig{GStreamerBin: script}, zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Load(ctx, track); err != nil {
		t.Fatalf("load: %v", err)
	}
	cancel()
	time.Sleep(50 * time.Millisecond)

	c.mu.Lock()
	dec := c.dec
	c.mu.Unlock()
	if dec == nil {
		t.Fatal("decoder released after load")
	}

	// The decoder must still be producing output once the request context
	// is gone.
	buf := make([]byte, 16)
	read := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(dec.stdout, buf)
		read <- err
	}()
	select {
	case err := <-read:
		if err != nil {
			t.Fatalf("decoder output closed after caller context cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoder output")
	}
}

func TestLoadHonorsCancelledContext(t *testing.T) {
	dir := t.TempDir()
	track := filepath.Join(dir, "track.ogg")
	if err := os.WriteFile(track, []byte("x"), 0o644); err != nil {
		t.Fatalf("write track: %v", err)
	}

	c := NewPCMChannel(PCMConfig{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Load(ctx, track); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecoderStopReapsSubprocess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "sleep", "60")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	d := &decoderProc{cmd: cmd, stdout: stdout, cancel: cancel}
	_ = d.stop()

	if cmd.ProcessState == nil {
		t.Fatal("stopped decoder left an unreaped subprocess")
	}
}

func TestSinkStopReapsSubprocess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "cat")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	s := &sinkProc{cmd: cmd, stdin: stdin, cancel: cancel}
	_ = s.stop()

	if cmd.ProcessState == nil {
		t.Fatal("stopped sink left an unreaped subprocess")
	}
}
