package notifier

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"time"
)

// screenshotQuality/screenshotMaxWidth are the compression knobs: quality
// 60 and a max width of 800px keep a mobile push notification's image
// attachment well under typical payload limits.
const (
	screenshotQuality  = 60
	screenshotMaxWidth = 800
)

// captureFrame extracts a single JPEG frame from videoPath at offset via
// ffmpeg, then compresses it. If compression doesn't shrink the frame
// (tiny/already-compressed sources), the original bytes are used instead.
func captureFrame(ctx context.Context, videoPath string, offset time.Duration) ([]byte, error) {
	tmp, err := os.CreateTemp("", "ntfy-screenshot-*.jpg")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-ss", formatOffset(offset), "-i", videoPath, "-frames:v", "1", tmpPath)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg screenshot: %w", err)
	}

	raw, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, err
	}

	compressed, err := compressJPEG(raw, screenshotMaxWidth, screenshotQuality)
	if err != nil || len(compressed) >= len(raw) {
		return raw, nil
	}
	return compressed, nil
}

func formatOffset(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// compressJPEG re-encodes img at the given quality, downsampling it
// first if it's wider than maxWidth. golang.org/x/image/draw isn't in the
// dependency set this repo draws from, so the resize is plain
// nearest-neighbor sampling over the standard library's image.Image.
func compressJPEG(raw []byte, maxWidth, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	if width > maxWidth {
		img = resizeBox(img, maxWidth)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resizeBox downsamples src to targetWidth using nearest-neighbor
// sampling, preserving aspect ratio.
func resizeBox(src image.Image, targetWidth int) image.Image {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= targetWidth {
		return src
	}
	targetHeight := srcH * targetWidth / srcW

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	for y := 0; y < targetHeight; y++ {
		srcY := bounds.Min.Y + y*srcH/targetHeight
		for x := 0; x < targetWidth; x++ {
			srcX := bounds.Min.X + x*srcW/targetWidth
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}
