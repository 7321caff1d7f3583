package media

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// EncodedFrame is one still image ready for submission to the scoring
// collaborator.
type EncodedFrame struct {
	Index       int
	TimestampMs int64
	Data        []byte // PNG bytes
}

// SelectConsecutive picks exactly n temporally adjacent frames from the
// middle of the decoded batch: start = (total - n) / 2. Consecutiveness is a
// hard requirement of the scoring contract, which depends on temporal
// continuity rather than n arbitrary samples.
func SelectConsecutive(frames []*image.RGBA, n int) ([]*image.RGBA, error) {
	if len(frames) < n {
		return nil, fmt.Errorf("need %d consecutive frames, decoded %d", n, len(frames))
	}
	start := (len(frames) - n) / 2
	return frames[start : start+n], nil
}

// EncodeFrames resizes each frame to size x size and PNG-encodes it.
func EncodeFrames(frames []*image.RGBA, size int) ([]EncodedFrame, error) {
	out := make([]EncodedFrame, 0, len(frames))
	for i, frame := range frames {
		data, err := encodeFrame(frame, size)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		out = append(out, EncodedFrame{Index: i, Data: data})
	}
	return out, nil
}

func encodeFrame(src *image.RGBA, size int) ([]byte, error) {
	dst := src
	if b := src.Bounds(); b.Dx() != size || b.Dy() != size {
		dst = image.NewRGBA(image.Rect(0, 0, size, size))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sharpness returns the Laplacian variance of the frame's luma plane. Higher
// is sharper; motion-blurred or heavily compressed frames score near zero.
func Sharpness(img *image.RGBA) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < w; x++ {
			r := float64(img.Pix[off+0])
			g := float64(img.Pix[off+1])
			bl := float64(img.Pix[off+2])
			gray[y*w+x] = 0.299*r + 0.587*g + 0.114*bl
			off += 4
		}
	}

	// 4-neighbour Laplacian over the interior, then variance of the response.
	n := 0
	sum, sumSq := 0.0, 0.0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := gray[(y-1)*w+x] + gray[(y+1)*w+x] + gray[y*w+x-1] + gray[y*w+x+1] - 4*gray[y*w+x]
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
