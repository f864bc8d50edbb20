// Package compress normalizes and shrinks captured images before they are
// persisted or transmitted. Capture is never blocked by a compression
// failure: any error falls back to the original bytes.
package compress

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/haulmark/fieldsync/internal/logging"
)

// Size tier boundaries for the adaptive quality policy.
const (
	aggressiveThreshold = 10 << 20 // inputs over 10MB
	balancedThreshold   = 5 << 20  // inputs over 5MB
)

// maxQualityRetries bounds the progressive re-encode loop when an initial
// attempt still exceeds the caller's target size.
const maxQualityRetries = 5

// Profile holds the resize and encode settings for one size tier.
type Profile struct {
	MaxDimension int // longest edge after resize
	Quality      int // initial JPEG quality factor
	MinQuality   int // floor for progressive retries
}

// profileFor picks the tier for an input size. Large captures get aggressive
// settings, small ones keep more detail.
func profileFor(size int) Profile {
	switch {
	case size > aggressiveThreshold:
		return Profile{MaxDimension: 1280, Quality: 50, MinQuality: 20}
	case size > balancedThreshold:
		return Profile{MaxDimension: 1600, Quality: 65, MinQuality: 25}
	default:
		return Profile{MaxDimension: 2048, Quality: 80, MinQuality: 30}
	}
}

// SignatureProfile is the aggressive profile for signature images; they carry
// less informational value per byte than vehicle photographs.
var SignatureProfile = Profile{MaxDimension: 600, Quality: 60, MinQuality: 20}

// Result describes a compression outcome.
type Result struct {
	Data           []byte
	OriginalSize   int64
	CompressedSize int64
	Format         string // detected input format, "" if undecodable
	FellBack       bool   // original bytes returned unchanged
}

// Pipeline re-encodes captured images as JPEG with size-adaptive quality.
// Lossless inputs (PNG, GIF, WebP) are converted to JPEG for better ratio.
type Pipeline struct{}

// NewPipeline creates a Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Compress shrinks an image using the tier chosen by its size. If targetSize
// is positive and the first attempt still exceeds it, the encode is retried
// with decreasing quality, bounded by maxQualityRetries. Any failure returns
// the original bytes unchanged rather than an error.
func (p *Pipeline) Compress(data []byte, mimeType string, targetSize int) *Result {
	return p.compressWith(data, mimeType, targetSize, profileFor(len(data)))
}

// CompressSignature shrinks a signature image with the signature profile.
func (p *Pipeline) CompressSignature(data []byte, targetSize int) *Result {
	return p.compressWith(data, "", targetSize, SignatureProfile)
}

func (p *Pipeline) compressWith(data []byte, mimeType string, targetSize int, profile Profile) *Result {
	result := &Result{
		OriginalSize: int64(len(data)),
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// Decode errors and unsupported formats fall back to the original
		// bytes; capture must never be blocked here.
		logging.Warn("image decode failed, storing original bytes",
			map[string]interface{}{
				"mime_type": mimeType,
				"size":      len(data),
			})
		result.Data = data
		result.CompressedSize = result.OriginalSize
		result.FellBack = true
		return result
	}
	result.Format = format

	bounds := img.Bounds()
	if bounds.Dx() > profile.MaxDimension || bounds.Dy() > profile.MaxDimension {
		img = imaging.Fit(img, profile.MaxDimension, profile.MaxDimension, imaging.Lanczos)
	}

	encoded, err := encodeToTarget(img, profile, targetSize)
	if err != nil {
		logging.Warn("image encode failed, storing original bytes",
			map[string]interface{}{"format": format})
		result.Data = data
		result.CompressedSize = result.OriginalSize
		result.FellBack = true
		return result
	}

	// Tiny inputs can re-encode larger than the source; keep the smaller.
	if int64(len(encoded)) >= result.OriginalSize {
		result.Data = data
		result.CompressedSize = result.OriginalSize
		return result
	}

	result.Data = encoded
	result.CompressedSize = int64(len(encoded))
	return result
}

// encodeToTarget encodes as JPEG, stepping quality down until the output fits
// the target size or the retry budget runs out.
func encodeToTarget(img image.Image, profile Profile, targetSize int) ([]byte, error) {
	quality := profile.Quality

	var encoded []byte
	for attempt := 0; attempt < maxQualityRetries; attempt++ {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, err
		}
		encoded = buf.Bytes()

		if targetSize <= 0 || len(encoded) <= targetSize || quality <= profile.MinQuality {
			break
		}

		quality -= 10
		if quality < profile.MinQuality {
			quality = profile.MinQuality
		}
	}

	return encoded, nil
}
