// Package sharecode draws QR codes that link to a route page. A trefoil
// badge in the middle carries the colour of the route's peak dose class so
// a printed code hints at what the link shows.
package sharecode

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	qrcode "github.com/skip2/go-qrcode"
)

// MaxPayload caps the encoded URL; longer input is rejected.
const MaxPayload = 2048

var ErrPayload = errors.New("share payload empty or too long")

// Options control the image. Zero values pick the defaults below.
type Options struct {
	SizePx int
	Fg     color.RGBA
	Bg     color.RGBA
	Badge  color.RGBA
	// BadgeFrac is the badge square relative to the image side, clamped to 0.20..0.32
	// so highest error correction can still recover the covered modules.
	BadgeFrac float64
}

func (o *Options) defaults() {
	if o.SizePx <= 0 {
		o.SizePx = 512
	}
	if o.SizePx > 2048 {
		o.SizePx = 2048
	}
	if o.BadgeFrac <= 0 {
		o.BadgeFrac = 0.26
	}
	o.BadgeFrac = math.Min(math.Max(o.BadgeFrac, 0.20), 0.32)
	if (o.Fg == color.RGBA{}) {
		o.Fg = color.RGBA{0, 0, 0, 255}
	}
	if (o.Bg == color.RGBA{}) {
		o.Bg = color.RGBA{255, 255, 255, 255}
	}
	if (o.Badge == color.RGBA{}) {
		o.Badge = color.RGBA{0xE6, 0xC1, 0x37, 0xFF}
	}
}

// Render builds the QR image for payload.
func Render(payload string, opt Options) (*image.RGBA, error) {
	if payload == "" || len(payload) > MaxPayload {
		return nil, ErrPayload
	}
	opt.defaults()

	qr, err := qrcode.New(payload, qrcode.Highest)
	if err != nil {
		return nil, err
	}
	qr.ForegroundColor = opt.Fg
	qr.BackgroundColor = opt.Bg

	src := qr.Image(opt.SizePx)
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	side := int(opt.BadgeFrac * float64(min(b.Dx(), b.Dy())))
	side -= side % 2
	cx, cy := b.Dx()/2, b.Dy()/2
	draw.Draw(dst, image.Rect(cx-side/2, cy-side/2, cx+side/2, cy+side/2), &image.Uniform{opt.Bg}, image.Point{}, draw.Src)
	trefoil(dst, cx, cy, side/2, opt.Badge)
	return dst, nil
}

// EncodePNG writes the QR for payload as PNG.
func EncodePNG(w io.Writer, payload string, opt Options) error {
	img, err := Render(payload, opt)
	if err != nil {
		return err
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}

// trefoil paints three 60° blades and a hub inside a circle of radius half.
func trefoil(dst *image.RGBA, cx, cy, half int, col color.RGBA) {
	outer := 0.94 * float64(half)
	inner := 0.35 * outer
	hub := 0.20 * outer
	blades := [3]float64{90, 210, 330}

	bounds := dst.Bounds()
	r := int(outer) + 1
	for y := max(cy-r, bounds.Min.Y); y <= min(cy+r, bounds.Max.Y-1); y++ {
		for x := max(cx-r, bounds.Min.X); x <= min(cx+r, bounds.Max.X-1); x++ {
			dx, dy := float64(x-cx), float64(y-cy)
			dist := math.Hypot(dx, dy)
			if dist <= hub {
				dst.SetRGBA(x, y, col)
				continue
			}
			if dist < inner || dist > outer {
				continue
			}
			angle := math.Atan2(dy, dx) * 180 / math.Pi
			for _, centre := range blades {
				if angularDistance(angle, centre) <= 30 {
					dst.SetRGBA(x, y, col)
					break
				}
			}
		}
	}
}

func angularDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}
