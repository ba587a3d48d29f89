package piolib

import (
	"fmt"
	"image/color"
	"strings"
	"time"

	"tinygo.org/x/drivers"
)

// RGBOrder is the order a strip expects the color channels on the wire.
type RGBOrder uint8

const (
	OrderRGB RGBOrder = iota
	OrderRBG
	OrderGRB
	OrderGBR
	OrderBGR
	OrderBRG
)

var rgbOrderNames = [...]string{"RGB", "RBG", "GRB", "GBR", "BGR", "BRG"}

func (o RGBOrder) String() string {
	if int(o) < len(rgbOrderNames) {
		return rgbOrderNames[o]
	}
	return fmt.Sprintf("RGBOrder(%d)", uint8(o))
}

// ParseRGBOrder parses a color order such as "GRB", ignoring case.
func ParseRGBOrder(s string) (RGBOrder, error) {
	for i, name := range rgbOrderNames {
		if strings.EqualFold(s, name) {
			return RGBOrder(i), nil
		}
	}
	return 0, fmt.Errorf("piolib: unknown rgb order %q", s)
}

// channels returns r, g and b in wire order.
func (o RGBOrder) channels(r, g, b uint8) (c0, c1, c2 uint8) {
	switch o {
	case OrderRBG:
		return r, b, g
	case OrderGRB:
		return g, r, b
	case OrderGBR:
		return g, b, r
	case OrderBGR:
		return b, g, r
	case OrderBRG:
		return b, r, g
	}
	return r, g, b
}

// Pack returns the FIFO word of a pixel. Channels are sent MSB first from
// bit 31 down; in RGBW mode the white channel takes the low byte.
func (o RGBOrder) Pack(r, g, b, w uint8, mode PixelMode) uint32 {
	c0, c1, c2 := o.channels(r, g, b)
	word := uint32(c0)<<24 | uint32(c1)<<16 | uint32(c2)<<8
	if mode == PixelModeRGBW {
		word |= uint32(w)
	}
	return word
}

// TxFIFO is the transmit side of a state machine running the LED strip program.
type TxFIFO interface {
	TxPut(data uint32)
	IsTxFIFOFull() bool
}

var _ drivers.Displayer = (*Strip)(nil)

// Strip buffers the pixels of a LED strip and writes them to a state
// machine running a program from Generate.
type Strip struct {
	fifo   TxFIFO
	order  RGBOrder
	mode   PixelMode
	pixels []color.RGBA
	white  []uint8
	// wait is called while the FIFO is full.
	wait        func() error
	timeout     time.Duration
	minInterval time.Duration
	lastShow    time.Time
}

// NewStrip returns a strip of numLEDs pixels, all off.
func NewStrip(fifo TxFIFO, numLEDs int, order RGBOrder, mode PixelMode) *Strip {
	s := &Strip{
		fifo:   fifo,
		order:  order,
		mode:   mode,
		pixels: make([]color.RGBA, numLEDs),
		wait:   func() error { gosched(); return nil },
	}
	if mode == PixelModeRGBW {
		s.white = make([]uint8, numLEDs)
	}
	return s
}

// SetWait replaces the function called while the FIFO is full. An error
// returned by wait aborts the write.
func (s *Strip) SetWait(wait func() error) { s.wait = wait }

// SetTimeout sets the longest a write blocks on a full FIFO. Zero disables the timeout.
func (s *Strip) SetTimeout(timeout time.Duration) { s.timeout = timeout }

// SetMaxRefreshRate sets the minimum time between two calls to Display.
func (s *Strip) SetMaxRefreshRate(d time.Duration) { s.minInterval = d }

// Size returns the strip length as a one row display.
func (s *Strip) Size() (x, y int16) { return int16(len(s.pixels)), 1 }

// SetPixel sets the color of pixel x. The row y must be 0.
func (s *Strip) SetPixel(x, y int16, c color.RGBA) {
	if y != 0 || x < 0 || int(x) >= len(s.pixels) {
		return
	}
	s.pixels[x] = c
}

// SetWhite sets the white channel of pixel x in RGBW mode.
func (s *Strip) SetWhite(x int16, w uint8) {
	if s.white == nil || x < 0 || int(x) >= len(s.white) {
		return
	}
	s.white[x] = w
}

// Display sends all pixels to the strip. It returns errBusy if called
// again before the max refresh rate interval passed.
func (s *Strip) Display() error {
	if s.minInterval > 0 && !s.lastShow.IsZero() && time.Since(s.lastShow) < s.minInterval {
		return errBusy
	}
	raw := make([]uint32, len(s.pixels))
	for i, c := range s.pixels {
		var w uint8
		if s.white != nil {
			w = s.white[i]
		}
		raw[i] = s.order.Pack(c.R, c.G, c.B, w, s.mode)
	}
	if err := s.WriteRaw(raw); err != nil {
		return err
	}
	s.lastShow = time.Now()
	return nil
}

// WriteRaw writes packed pixel words to the FIFO, waiting while it is full.
func (s *Strip) WriteRaw(raw []uint32) error {
	dl := newDeadline(s.timeout)
	i := 0
	for i < len(raw) {
		if s.fifo.IsTxFIFOFull() {
			if dl.expired() {
				return errTimeout
			}
			if err := s.wait(); err != nil {
				return err
			}
			continue
		}
		s.fifo.TxPut(raw[i])
		i++
	}
	return nil
}
