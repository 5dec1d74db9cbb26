package source

import (
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"
	"time"
)

// FFmpegSource decodes a stream or file through an ffmpeg subprocess
// piping raw RGB frames over stdout. ffmpeg handles demux, decode and
// pacing (-re for files, wall-clock arrival for RTSP); this side only
// reframes the byte stream.
type FFmpegSource struct {
	url    string
	kind   string
	width  int
	height int
	loop   bool

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    []byte
	closed bool
}

// OpenFFmpeg starts the decoder. width/height set the scaled output
// frame size; the first ReadFrame confirms the input actually decodes.
func OpenFFmpeg(ctx context.Context, c Candidate, width, height int) (*FFmpegSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("source: invalid frame size %dx%d", width, height)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	switch c.Kind {
	case KindRTSP:
		args = append(args, "-rtsp_transport", "tcp", "-rw_timeout", "10000000")
	default:
		// File-ish inputs decode as fast as the pipe drains; -re holds
		// them to their native rate so downstream FPS math stays honest.
		args = append(args, "-re")
		if c.Loop {
			args = append(args, "-stream_loop", "-1")
		}
	}
	args = append(args,
		"-i", c.URL,
		"-an",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("source: ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("source: start ffmpeg: %w", err)
	}

	return &FFmpegSource{
		url:    c.URL,
		kind:   c.Kind,
		width:  width,
		height: height,
		loop:   c.Loop,
		cmd:    cmd,
		stdout: stdout,
		buf:    make([]byte, width*height*3),
	}, nil
}

// ReadFrame blocks until one full frame arrived on the pipe. A dead or
// finished ffmpeg surfaces as an error; the worker treats that as a
// reconnect signal. One reader at a time; the mutex is not held across
// the pipe read so a concurrent Close can kill the decoder and unblock
// a stalled read.
func (s *FFmpegSource) ReadFrame(ctx context.Context) (*image.RGBA, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	stdout := s.stdout
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(stdout, s.buf); err != nil {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("source: read frame from %s: %w", s.kind, err)
	}

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	src := s.buf
	dst := img.Pix
	for i, j := 0, 0; i < len(src); i, j = i+3, j+4 {
		dst[j] = src[i]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+2]
		dst[j+3] = 0xff
	}
	return img, nil
}

func (s *FFmpegSource) Describe() string {
	return fmt.Sprintf("%s:%s", s.kind, s.url)
}

// Close kills the subprocess and reaps it. Safe to call more than once.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}

	// Bounded reap; ffmpeg ignoring SIGKILL is not a thing worth waiting
	// forever on.
	done := make(chan struct{})
	go func() {
		s.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
	}
	return nil
}
