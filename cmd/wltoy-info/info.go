package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bnema/wltoy"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// Report is everything wltoy-info prints.
type Report struct {
	Globals     []GlobalInfo `json:"globals" yaml:"globals"`
	ShmFormats  []string     `json:"shm_formats" yaml:"shm_formats"`
	Outputs     []OutputInfo `json:"outputs" yaml:"outputs"`
	Seats       []SeatInfo   `json:"seats" yaml:"seats"`
	CursorTheme string       `json:"cursor_theme,omitempty" yaml:"cursor_theme,omitempty"`
	CursorSize  int          `json:"cursor_size,omitempty" yaml:"cursor_size,omitempty"`
	Backend     string       `json:"backend" yaml:"backend"`
	ResizePool  string       `json:"resize_pool" yaml:"resize_pool"`
	Throttle    string       `json:"resize_throttle" yaml:"resize_throttle"`
}

// GlobalInfo describes one advertised global.
type GlobalInfo struct {
	Name      uint32 `json:"name" yaml:"name"`
	Interface string `json:"interface" yaml:"interface"`
	Version   uint32 `json:"version" yaml:"version"`
}

// OutputInfo describes one output.
type OutputInfo struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Make        string `json:"make" yaml:"make"`
	Model       string `json:"model" yaml:"model"`
	X           int32  `json:"x" yaml:"x"`
	Y           int32  `json:"y" yaml:"y"`
	Width       int32  `json:"width" yaml:"width"`
	Height      int32  `json:"height" yaml:"height"`
	RefreshMHz  int32  `json:"refresh_mhz" yaml:"refresh_mhz"`
	Scale       int32  `json:"scale" yaml:"scale"`
	Transform   int32  `json:"transform" yaml:"transform"`
}

// SeatInfo describes one seat.
type SeatInfo struct {
	Name         string   `json:"name" yaml:"name"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	d, err := wltoy.Connect(wltoy.Options{
		Name:            globalOpts.display,
		Logger:          logger,
		ConfigPath:      globalOpts.configPath,
		DesktopSettings: globalOpts.portal,
	})
	if err != nil {
		return err
	}
	defer d.Close()

	return writeReport(cmd.OutOrStdout(), buildReport(d), globalOpts.format)
}

func buildReport(d *wltoy.Display) Report {
	cfg := d.Config()
	r := Report{
		Backend:    cfg.Render.Backend,
		ResizePool: humanize.IBytes(uint64(cfg.Render.ResizePoolSize)),
		Throttle:   cfg.Redraw.ResizeThrottle,
	}
	r.CursorTheme, r.CursorSize = d.CursorTheme()

	for _, g := range d.Globals() {
		r.Globals = append(r.Globals, GlobalInfo{Name: g.Name, Interface: g.Interface, Version: g.Version})
	}
	for _, f := range d.ShmFormats() {
		r.ShmFormats = append(r.ShmFormats, formatName(f))
	}
	for _, o := range d.Outputs() {
		a := o.Allocation()
		r.Outputs = append(r.Outputs, OutputInfo{
			Name:        o.Name(),
			Description: o.Description(),
			Make:        o.Make(),
			Model:       o.Model(),
			X:           a.X,
			Y:           a.Y,
			Width:       a.Width,
			Height:      a.Height,
			RefreshMHz:  o.Refresh(),
			Scale:       o.Scale(),
			Transform:   o.Transform(),
		})
	}
	for _, in := range d.Inputs() {
		r.Seats = append(r.Seats, SeatInfo{Name: in.Name(), Capabilities: capabilityNames(in.Capabilities())})
	}
	return r
}

func formatName(f uint32) string {
	switch f {
	case wltoy.FormatARGB8888:
		return "argb8888"
	case wltoy.FormatXRGB8888:
		return "xrgb8888"
	case wltoy.FormatRGB565:
		return "rgb565"
	}
	// Other formats are fourcc codes
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return strings.ToLower(strings.TrimSpace(string(b)))
}

func capabilityNames(caps uint32) []string {
	names := []string{}
	if caps&wltoy.SeatCapabilityPointer != 0 {
		names = append(names, "pointer")
	}
	if caps&wltoy.SeatCapabilityKeyboard != 0 {
		names = append(names, "keyboard")
	}
	if caps&wltoy.SeatCapabilityTouch != 0 {
		names = append(names, "touch")
	}
	return names
}

func writeReport(w io.Writer, r Report, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}
	return writeText(w, r)
}

func writeText(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GLOBALS")
	for _, g := range r.Globals {
		fmt.Fprintf(tw, "  %d\t%s\tv%d\n", g.Name, g.Interface, g.Version)
	}
	fmt.Fprintf(tw, "\nSHM FORMATS\t%s\n", strings.Join(r.ShmFormats, ", "))

	fmt.Fprintln(tw, "\nOUTPUTS")
	for _, o := range r.Outputs {
		label := o.Name
		if label == "" {
			label = o.Make + " " + o.Model
		}
		fmt.Fprintf(tw, "  %s\t%dx%d+%d+%d\t%s Hz\tscale %d\n", label, o.Width, o.Height, o.X, o.Y,
			humanize.FtoaWithDigits(float64(o.RefreshMHz)/1000, 2), o.Scale)
	}

	fmt.Fprintln(tw, "\nSEATS")
	for _, s := range r.Seats {
		fmt.Fprintf(tw, "  %s\t%s\n", s.Name, strings.Join(s.Capabilities, ", "))
	}

	cursor := r.CursorTheme
	if cursor == "" {
		cursor = "(default)"
	}
	fmt.Fprintf(tw, "\nCURSOR\t%s %d\n", cursor, r.CursorSize)
	fmt.Fprintf(tw, "BACKEND\t%s\n", r.Backend)
	fmt.Fprintf(tw, "RESIZE POOL\t%s\n", r.ResizePool)
	fmt.Fprintf(tw, "RESIZE THROTTLE\t%s\n", r.Throttle)
	return tw.Flush()
}
