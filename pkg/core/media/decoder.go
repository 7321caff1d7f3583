// Package media turns accumulated raw video data into the fixed-size batch
// of still images the scoring collaborator requires: batch decode via an
// ffmpeg subprocess, consecutive-frame selection, resize and PNG encoding.
package media

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Default ffmpeg invocation: raw H.264 on stdin, PPM image stream on stdout.
// PPM is self-framing (each frame carries its own dimensions), so the reader
// needs no prior knowledge of the stream resolution.
var defaultDecodeCmd = []string{
	"ffmpeg",
	"-loglevel", "error",
	"-f", "h264",
	"-i", "pipe:0",
	"-f", "image2pipe",
	"-vcodec", "ppm",
	"pipe:1",
}

// BatchDecoder decodes one accumulated buffer in a single subprocess run.
// Streaming decode of this codec family stalls with the chunk-delivery
// characteristics of the upstream, so the whole buffer is decoded at once
// after accumulation completes.
type BatchDecoder struct {
	cmd []string
}

// NewBatchDecoder creates a decoder using the default ffmpeg command.
func NewBatchDecoder() *BatchDecoder {
	return &BatchDecoder{cmd: defaultDecodeCmd}
}

// NewBatchDecoderCmd creates a decoder with an overridden command. Tests
// substitute a passthrough command and feed pre-built PPM bytes.
func NewBatchDecoderCmd(cmd []string) *BatchDecoder {
	return &BatchDecoder{cmd: cmd}
}

// Decode runs the subprocess over the full buffer and returns every decoded
// frame in temporal order.
func (d *BatchDecoder) Decode(ctx context.Context, data []byte) ([]*image.RGBA, error) {
	if len(d.cmd) == 0 {
		return nil, fmt.Errorf("decode: empty command")
	}

	cmd := exec.CommandContext(ctx, d.cmd[0], d.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("decode: start %s: %w", d.cmd[0], err)
	}

	// Feed the whole buffer from a separate goroutine so the frame reader
	// can drain stdout concurrently; otherwise a large buffer deadlocks on
	// the OS pipe.
	writeErr := make(chan error, 1)
	go func() {
		_, werr := stdin.Write(data)
		cerr := stdin.Close()
		if werr != nil {
			writeErr <- werr
			return
		}
		writeErr <- cerr
	}()

	frames, readErr := ReadPPMStream(stdout)

	// A broken pipe on write means the decoder exited before consuming the
	// whole buffer; the process exit status carries the real cause.
	<-writeErr
	waitErr := cmd.Wait()

	if readErr != nil {
		return frames, fmt.Errorf("decode: read frames: %w", readErr)
	}
	if waitErr != nil && len(frames) == 0 {
		return nil, fmt.Errorf("decode: %s exited: %w", d.cmd[0], waitErr)
	}
	return frames, nil
}

// DecodeTimed wraps Decode and reports the wall-clock decode duration, used
// for diagnostic context on insufficient-frame failures.
func (d *BatchDecoder) DecodeTimed(ctx context.Context, data []byte) ([]*image.RGBA, time.Duration, error) {
	start := time.Now()
	frames, err := d.Decode(ctx, data)
	return frames, time.Since(start), err
}

// ReadPPMStream parses a sequence of binary PPM (P6) images:
//
//	P6\n
//	{width} {height}\n
//	255\n
//	<width * height * 3 raw RGB bytes>
//
// It returns the frames read before a clean EOF. EOF in the middle of a
// frame is an error.
func ReadPPMStream(r io.Reader) ([]*image.RGBA, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	var frames []*image.RGBA

	for {
		magic, err := readTokenLine(br)
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		if magic == "" {
			continue
		}
		if magic != "P6" {
			return frames, fmt.Errorf("unexpected PPM magic %q at frame %d", magic, len(frames))
		}

		dims, err := readTokenLine(br)
		if err != nil {
			return frames, fmt.Errorf("frame %d: dimensions: %w", len(frames), err)
		}
		parts := strings.Fields(dims)
		if len(parts) != 2 {
			return frames, fmt.Errorf("frame %d: malformed dimensions %q", len(frames), dims)
		}
		width, err := strconv.Atoi(parts[0])
		if err != nil {
			return frames, fmt.Errorf("frame %d: width: %w", len(frames), err)
		}
		height, err := strconv.Atoi(parts[1])
		if err != nil {
			return frames, fmt.Errorf("frame %d: height: %w", len(frames), err)
		}
		if width <= 0 || height <= 0 {
			return frames, fmt.Errorf("frame %d: invalid dimensions %dx%d", len(frames), width, height)
		}

		if _, err := readTokenLine(br); err != nil { // max-value line, always 255
			return frames, fmt.Errorf("frame %d: maxval: %w", len(frames), err)
		}

		raw := make([]byte, width*height*3)
		if _, err := io.ReadFull(br, raw); err != nil {
			return frames, fmt.Errorf("frame %d: pixel data: %w", len(frames), err)
		}
		frames = append(frames, rgbToRGBA(raw, width, height))
	}
}

func readTokenLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if err == io.EOF && strings.TrimSpace(line) == "" {
			return "", io.EOF
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func rgbToRGBA(raw []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	si := 0
	for y := 0; y < height; y++ {
		di := img.PixOffset(0, y)
		for x := 0; x < width; x++ {
			img.Pix[di+0] = raw[si+0]
			img.Pix[di+1] = raw[si+1]
			img.Pix[di+2] = raw[si+2]
			img.Pix[di+3] = 0xff
			si += 3
			di += 4
		}
	}
	return img
}
