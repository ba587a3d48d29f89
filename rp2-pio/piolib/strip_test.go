package piolib

import (
	"errors"
	"image/color"
	"testing"
	"time"
)

type fakeFIFO struct {
	words []uint32
	depth int
}

func (f *fakeFIFO) TxPut(data uint32) { f.words = append(f.words, data) }

func (f *fakeFIFO) IsTxFIFOFull() bool { return f.depth > 0 && len(f.words) >= f.depth }

func TestRGBOrderPack(t *testing.T) {
	const r, g, b, w = 0x11, 0x22, 0x33, 0x44
	for _, tc := range []struct {
		order string
		want  uint32
	}{
		{"RGB", 0x11223300},
		{"rbg", 0x11332200},
		{"GRB", 0x22113300},
		{"GBR", 0x22331100},
		{"BGR", 0x33221100},
		{"BRG", 0x33112200},
	} {
		order, err := ParseRGBOrder(tc.order)
		if err != nil {
			t.Fatal(err)
		}
		if got := order.Pack(r, g, b, w, PixelModeRGB); got != tc.want {
			t.Errorf("%s: got %#08x, want %#08x", tc.order, got, tc.want)
		}
		if got := order.Pack(r, g, b, w, PixelModeRGBW); got != tc.want|w {
			t.Errorf("%s RGBW: got %#08x, want %#08x", tc.order, got, tc.want|w)
		}
	}
	if _, err := ParseRGBOrder("RGGB"); err == nil {
		t.Error("RGGB accepted")
	}
}

func TestStripDisplay(t *testing.T) {
	fifo := &fakeFIFO{}
	s := NewStrip(fifo, 3, OrderGRB, PixelModeRGBW)
	if x, y := s.Size(); x != 3 || y != 1 {
		t.Errorf("size %dx%d", x, y)
	}
	s.SetPixel(0, 0, color.RGBA{R: 1, G: 2, B: 3})
	s.SetPixel(2, 0, color.RGBA{R: 0xff})
	s.SetPixel(3, 0, color.RGBA{R: 0xff}) // out of range
	s.SetPixel(1, 1, color.RGBA{R: 0xff}) // no second row
	s.SetWhite(2, 0x80)
	if err := s.Display(); err != nil {
		t.Fatal(err)
	}
	want := []uint32{0x02010300, 0, 0x00ff0080}
	if len(fifo.words) != len(want) {
		t.Fatalf("got %d words", len(fifo.words))
	}
	for i := range want {
		if fifo.words[i] != want[i] {
			t.Errorf("word %d got %#08x, want %#08x", i, fifo.words[i], want[i])
		}
	}
}

func TestStripWaitsOnFullFIFO(t *testing.T) {
	fifo := &fakeFIFO{depth: 2}
	s := NewStrip(fifo, 5, OrderRGB, PixelModeRGB)
	waits := 0
	s.SetWait(func() error {
		waits++
		fifo.words = fifo.words[1:] // the state machine pulls one word
		fifo.depth = 2
		return nil
	})
	if err := s.Display(); err != nil {
		t.Fatal(err)
	}
	if waits != 3 {
		t.Errorf("waited %d times, want 3", waits)
	}

	errHalt := errors.New("halted")
	s.SetWait(func() error { return errHalt })
	if err := s.Display(); !errors.Is(err, errHalt) {
		t.Errorf("got %v, want wait error", err)
	}
}

func TestStripTimeout(t *testing.T) {
	fifo := &fakeFIFO{depth: 1, words: []uint32{0}}
	s := NewStrip(fifo, 1, OrderRGB, PixelModeRGB)
	s.SetTimeout(time.Millisecond)
	if err := s.WriteRaw([]uint32{1}); !errors.Is(err, errTimeout) {
		t.Errorf("got %v, want timeout", err)
	}
}

func TestStripMaxRefreshRate(t *testing.T) {
	s := NewStrip(&fakeFIFO{}, 1, OrderRGB, PixelModeRGB)
	s.SetMaxRefreshRate(time.Hour)
	if err := s.Display(); err != nil {
		t.Fatal(err)
	}
	if err := s.Display(); !errors.Is(err, errBusy) {
		t.Errorf("second refresh: got %v, want errBusy", err)
	}
}
