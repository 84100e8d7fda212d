package codec

import (
	"bytes"
	"fmt"
	"image"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"gocv.io/x/gocv"

	"github.com/aperturelabs/livegateway/pkg/utils"
)

// VideoDecoder turns a fully reassembled VP8 frame into a raw image. A
// separate interface from the depacketizer lets a future codec swap
// (spec.md §9 "video codec assumed VP8") replace only the decode step.
type VideoDecoder interface {
	Decode(frame []byte) (image.Image, error)
}

// gocvVideoDecoder is the only image-codec path the retrieved corpus
// offers (n0remac-robot-webrtc is the sole example depending on gocv).
// It decodes via OpenCV's generic image codec, the closest analogue
// available without a dedicated VP8 bitstream decoder in the corpus.
type gocvVideoDecoder struct{}

func NewVideoDecoder() VideoDecoder {
	return &gocvVideoDecoder{}
}

func (d *gocvVideoDecoder) Decode(frame []byte) (image.Image, error) {
	mat, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode video frame: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("decode video frame: empty result")
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert decoded frame to image: %w", err)
	}
	return img, nil
}

// VP8Depacketizer reassembles RTP-fragmented VP8 payloads into complete
// per-frame buffers, mirroring gtfodev-camsRelay's H264Processor FU-A/
// STAP-A reassembly loop adapted to VP8's single fragmentation scheme
// (a partition-start flag instead of H.264's FU-A start/end bits).
type VP8Depacketizer struct {
	buffer   bytes.Buffer
	keyframe bool
	depacket codecs.VP8Packet
	OnFrame  func(frame []byte, keyframe bool)
}

func NewVP8Depacketizer() *VP8Depacketizer {
	return &VP8Depacketizer{}
}

// ProcessPacket feeds one RTP packet into the reassembly buffer, invoking
// OnFrame when packet.Marker closes out a complete frame.
func (d *VP8Depacketizer) ProcessPacket(packet *rtp.Packet) error {
	if len(packet.Payload) == 0 {
		return nil
	}

	payload, err := d.depacket.Unmarshal(packet.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal vp8 payload: %w", err)
	}

	if d.depacket.S == 1 && d.depacket.PID == 0 {
		d.buffer.Reset()
		d.keyframe = isVP8Keyframe(payload)
	}

	d.buffer.Write(payload)

	if packet.Marker {
		frame := make([]byte, d.buffer.Len())
		copy(frame, d.buffer.Bytes())
		d.buffer.Reset()
		if d.OnFrame != nil {
			d.OnFrame(frame, d.keyframe)
		}
	}

	return nil
}

// isVP8Keyframe inspects the first byte of a VP8 payload descriptor's
// payload header: bit 0 of the first byte is 0 for a keyframe.
func isVP8Keyframe(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	return payload[0]&0x01 == 0
}

// EncodeJPEG re-encodes img to JPEG at quality (clamped to [70, 85] per
// spec.md §6) and resizes so the longest side is at most maxLongSidePx.
func EncodeJPEG(img image.Image, quality, maxLongSidePx int) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("image to mat: %w", err)
	}
	defer mat.Close()

	resized := mat
	if w, h := mat.Cols(), mat.Rows(); w > maxLongSidePx || h > maxLongSidePx {
		longSide := w
		if h > longSide {
			longSide = h
		}
		scale := float64(maxLongSidePx) / float64(longSide)
		newW, newH := int(float64(w)*scale), int(float64(h)*scale)
		out := gocv.NewMat()
		gocv.Resize(mat, &out, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)
		resized = out
		defer resized.Close()
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, resized, []int{gocv.IMWriteJpegQuality, utils.Clamp(quality, 70, 85)})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// BlurRegion applies a Gaussian-style blur to the rectangle r within img,
// with kernel radius at least minRadius, proportional to the rectangle's
// short side — grounded on spec.md §4.5's blur algorithm.
func BlurRegion(img image.Image, r image.Rectangle, minRadius int) (image.Image, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("image to mat: %w", err)
	}
	defer mat.Close()

	shortSide := r.Dx()
	if r.Dy() < shortSide {
		shortSide = r.Dy()
	}
	radius := shortSide / 8
	if radius < minRadius {
		radius = minRadius
	}
	if radius%2 == 0 {
		radius++ // gocv kernel size must be odd
	}

	region := mat.Region(r)
	blurred := gocv.NewMat()
	gocv.GaussianBlur(region, &blurred, image.Pt(radius, radius), 0, 0, gocv.BorderDefault)
	blurred.CopyTo(&region)
	blurred.Close()
	region.Close()

	out, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("mat to image: %w", err)
	}
	return out, nil
}
