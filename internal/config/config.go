// Package config loads the YAML description of the LED strips to build
// PIO programs for.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinygo-org/pioledstrip/rp2-pio/piolib"
)

const (
	DefaultOutputDir = "build"
	FormatCSDK       = "c-sdk"
	FormatGo         = "go"
	// MaxPin is the highest user GPIO of the RP2040.
	MaxPin = 29
)

var (
	ErrAmbiguousTiming  = errors.New("config: exactly one of chipset and bit0_high must be set")
	ErrIncompleteTiming = errors.New("config: bit0_high, bit0_low, bit1_high and bit1_low must be set together")
)

// Config is the top level document.
type Config struct {
	OutputDir     string `yaml:"output_dir"`
	SystemClockHz uint32 `yaml:"system_clock_hz"`
	// Pioasm is the external assembler command line. Empty selects the
	// built-in assembler.
	Pioasm string  `yaml:"pioasm"`
	Format string  `yaml:"format"`
	Strips []Strip `yaml:"strips"`
}

// Strip configures one LED strip driven by its own PIO block.
type Strip struct {
	ID             string `yaml:"id"`
	Pin            int    `yaml:"pin"`
	NumLEDs        int    `yaml:"num_leds"`
	RGBOrder       string `yaml:"rgb_order"`
	PIO            int    `yaml:"pio"`
	Chipset        string `yaml:"chipset"`
	Bit0High       string `yaml:"bit0_high"`
	Bit0Low        string `yaml:"bit0_low"`
	Bit1High       string `yaml:"bit1_high"`
	Bit1Low        string `yaml:"bit1_low"`
	IsRGBW         bool   `yaml:"is_rgbw"`
	MaxRefreshRate string `yaml:"max_refresh_rate"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document, fills in defaults and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.SystemClockHz == 0 {
		c.SystemClockHz = uint32(piolib.DefaultClock)
	}
	if c.Format == "" {
		c.Format = FormatCSDK
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != FormatCSDK && c.Format != FormatGo {
		errs = append(errs, fmt.Errorf("config: format %q: must be %s or %s", c.Format, FormatCSDK, FormatGo))
	}
	if _, _, err := piolib.Clock(c.SystemClockHz).ClkDiv(); err != nil {
		errs = append(errs, fmt.Errorf("config: system_clock_hz %d: %w", c.SystemClockHz, err))
	}
	if len(c.Strips) == 0 {
		errs = append(errs, errors.New("config: no strips"))
	}
	ids := make(map[string]bool)
	engines := make(map[int]string)
	for i := range c.Strips {
		s := &c.Strips[i]
		name := s.ID
		if name == "" {
			name = fmt.Sprintf("strips[%d]", i)
			errs = append(errs, fmt.Errorf("config: %s: missing id", name))
		} else if ids[name] {
			errs = append(errs, fmt.Errorf("config: duplicate strip id %q", name))
		}
		ids[name] = true
		if other, ok := engines[s.PIO]; ok {
			errs = append(errs, fmt.Errorf("config: %s: pio %d already used by %s", name, s.PIO, other))
		} else {
			engines[s.PIO] = name
		}
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks a single strip.
func (s *Strip) Validate() error {
	var errs []error
	if s.Pin < 0 || s.Pin > MaxPin {
		errs = append(errs, fmt.Errorf("pin %d: must be between 0 and %d", s.Pin, MaxPin))
	}
	if s.NumLEDs <= 0 {
		errs = append(errs, fmt.Errorf("num_leds %d: must be positive", s.NumLEDs))
	}
	if _, err := s.Order(); err != nil {
		errs = append(errs, err)
	}
	if !s.Engine().Valid() || s.PIO != int(s.Engine()) {
		errs = append(errs, fmt.Errorf("pio %d: %w", s.PIO, piolib.ErrBadEngine))
	}
	if _, err := s.Timing(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.RefreshInterval(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Strip) hasCustomTiming() bool {
	return s.Bit0High != "" || s.Bit0Low != "" || s.Bit1High != "" || s.Bit1Low != ""
}

// Timing returns the strip's cycle counts from its chipset preset or its
// custom durations.
func (s *Strip) Timing() (piolib.TimingSet, error) {
	custom := s.hasCustomTiming()
	switch {
	case s.Chipset != "" && custom, s.Chipset == "" && !custom:
		return piolib.TimingSet{}, ErrAmbiguousTiming
	case s.Chipset != "":
		c, err := piolib.ParseChipset(s.Chipset)
		if err != nil {
			return piolib.TimingSet{}, err
		}
		return c.Timing(), nil
	}
	if s.Bit0High == "" || s.Bit0Low == "" || s.Bit1High == "" || s.Bit1Low == "" {
		return piolib.TimingSet{}, ErrIncompleteTiming
	}
	return piolib.CustomTiming(s.Bit0High, s.Bit0Low, s.Bit1High, s.Bit1Low)
}

// Order returns the parsed rgb_order.
func (s *Strip) Order() (piolib.RGBOrder, error) {
	return piolib.ParseRGBOrder(s.RGBOrder)
}

// Mode returns the pixel mode selected by is_rgbw.
func (s *Strip) Mode() piolib.PixelMode {
	if s.IsRGBW {
		return piolib.PixelModeRGBW
	}
	return piolib.PixelModeRGB
}

// Engine returns the PIO block the strip's program targets.
func (s *Strip) Engine() piolib.Engine {
	return piolib.Engine(s.PIO)
}

// RefreshInterval returns the minimum time between refreshes, or zero if unset.
func (s *Strip) RefreshInterval() (time.Duration, error) {
	if s.MaxRefreshRate == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.MaxRefreshRate)
	if err != nil {
		return 0, fmt.Errorf("max_refresh_rate: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("max_refresh_rate %s: must be positive", d)
	}
	return d, nil
}
