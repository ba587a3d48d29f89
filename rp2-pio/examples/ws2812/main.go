// Command ws2812 runs a stoplight sequence through a generated WS2812
// program on the emulated PIO block and prints what the strip would show.
package main

import (
	"fmt"
	"image/color"

	pio "github.com/tinygo-org/pioledstrip/rp2-pio"
	"github.com/tinygo-org/pioledstrip/rp2-pio/piolib"
)

func main() {
	const ws2812Pin = 16
	ts := piolib.ChipsetWS2812.Timing()
	text, err := piolib.Generate(0, ts, piolib.PixelModeRGB, piolib.DefaultClock)
	if err != nil {
		panic(err.Error())
	}
	prog, err := text.Assemble()
	if err != nil {
		panic(err.Error())
	}
	block := pio.NewPIO(0)
	sm, _ := block.ClaimStateMachine()
	if _, err := piolib.Load(sm, prog, ws2812Pin, piolib.PixelModeRGB, piolib.DefaultClock); err != nil {
		panic(err.Error())
	}
	ws := piolib.NewStrip(sm, 1, piolib.OrderGRB, piolib.PixelModeRGB)
	ws.SetWait(block.Tick)

	const maxVal = 4
	red := color.RGBA{R: maxVal}
	amber := color.RGBA{R: maxVal, G: maxVal / 4 * 3}
	green := color.RGBA{G: maxVal}
	sequence := []struct {
		name string
		c    color.RGBA
	}{
		{"red", red},
		{"green/amber switching", amber},
		{"", red},
		{"", amber},
		{"", red},
		{"green", green},
		{"amber", amber},
	}
	for _, step := range sequence {
		if step.name != "" {
			fmt.Println(step.name)
		}
		block.ResetTrace()
		ws.SetPixel(0, 0, step.c)
		if err := ws.Display(); err != nil {
			panic(err.Error())
		}
		if _, err := sm.RunUntilStall(1 << 16); err != nil {
			panic(err.Error())
		}
		pulses := piolib.MeasurePulses(block.PinEdges(ws2812Pin))
		for _, w := range piolib.DecodeWords(piolib.DecodeBits(pulses, ts), piolib.PixelModeRGB) {
			fmt.Printf("  GRB %06x after %d cycles\n", w>>8, block.Cycle())
		}
	}
}
