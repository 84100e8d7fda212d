// Package privacy implements C3 PrivacyShield: classifying a still frame
// as safe/blurred/blocked and producing blurred image bytes when faces
// are present.
package privacy

import (
	"context"
	"image"

	"github.com/aperturelabs/livegateway/internal/media/codec"
	"github.com/aperturelabs/livegateway/pkg/commons"
)

// VerdictKind is the tagged discriminant of a PrivacyVerdict.
type VerdictKind string

const (
	VerdictSafe    VerdictKind = "safe"
	VerdictBlurred VerdictKind = "blurred"
	VerdictBlocked VerdictKind = "blocked"
)

// Verdict is the tagged PrivacyVerdict value from spec.md §3.
type Verdict struct {
	Kind           VerdictKind
	ProcessedBytes []byte
	FaceCount      int
	Reason         string // set only when Kind == VerdictBlocked
}

// FaceBox is one detected face, in pixel coordinates on the source frame.
type FaceBox struct {
	X, Y, W, H int
	Confidence float64
}

// FaceDetector is the upstream face-detection collaborator (spec.md §1
// "treated as a remote capability with a defined request/response
// shape"). Confidence-bearing results finer than binary (e.g.
// "occluded") must already be folded to "present" by the implementation,
// per spec.md §9.
type FaceDetector interface {
	Detect(ctx context.Context, jpeg []byte) ([]FaceBox, error)
}

// Config pins the crowd threshold and minimum blur radius, both
// configurable per spec.md §6 (CROWD_THRESHOLD, BLUR_RADIUS_MIN).
type Config struct {
	CrowdThreshold int
	BlurRadiusMin  int
	JPEGQuality    int
}

// Shield implements the spec.md §4.5 algorithm.
type Shield struct {
	detector FaceDetector
	cfg      Config
	logger   commons.Logger
}

func New(detector FaceDetector, cfg Config, logger commons.Logger) *Shield {
	return &Shield{detector: detector, cfg: cfg, logger: logger}
}

// Classify runs the four-step algorithm from spec.md §4.5 against one
// JPEG still frame. It never stores the frame; the shield is stateless
// across calls.
func (s *Shield) Classify(ctx context.Context, jpeg []byte) Verdict {
	faces, err := s.detector.Detect(ctx, jpeg)
	if err != nil {
		s.logger.Warnw("face detector unavailable", "error", err)
		return Verdict{Kind: VerdictBlocked, FaceCount: 0, Reason: "detector_unavailable"}
	}

	if len(faces) > s.cfg.CrowdThreshold {
		return Verdict{Kind: VerdictBlocked, FaceCount: len(faces), Reason: "crowd"}
	}

	if len(faces) == 0 {
		return Verdict{Kind: VerdictSafe}
	}

	blurred, err := s.blur(jpeg, faces)
	if err != nil {
		s.logger.Warnw("blur failed, failing closed", "error", err)
		return Verdict{Kind: VerdictBlocked, FaceCount: len(faces), Reason: "detector_unavailable"}
	}

	return Verdict{Kind: VerdictBlurred, ProcessedBytes: blurred, FaceCount: len(faces)}
}

func (s *Shield) blur(jpeg []byte, faces []FaceBox) ([]byte, error) {
	decoder := codec.NewVideoDecoder()
	img, err := decoder.Decode(jpeg)
	if err != nil {
		return nil, err
	}

	for _, f := range faces {
		r := image.Rect(f.X, f.Y, f.X+f.W, f.Y+f.H)
		img, err = codec.BlurRegion(img, r, s.cfg.BlurRadiusMin)
		if err != nil {
			return nil, err
		}
	}

	return codec.EncodeJPEG(img, s.cfg.JPEGQuality, maxInt(img.Bounds().Dx(), img.Bounds().Dy()))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
