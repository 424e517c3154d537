package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/tagmon/internal/session"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// statusPrinter writes progress lines, coloured only on a terminal.
type statusPrinter struct {
	w     io.Writer
	info  *color.Color
	ok    *color.Color
	warn  *color.Color
	muted *color.Color
}

func newStatusPrinter(w io.Writer) *statusPrinter {
	p := &statusPrinter{
		w:     w,
		info:  color.New(color.FgCyan),
		ok:    color.New(color.FgGreen, color.Bold),
		warn:  color.New(color.FgYellow),
		muted: color.New(color.Faint),
	}
	if !isTerminal(w) {
		for _, c := range []*color.Color{p.info, p.ok, p.warn, p.muted} {
			c.DisableColor()
		}
	}
	return p
}

func (p *statusPrinter) state(st session.State) {
	c := p.info
	switch st {
	case session.Connected:
		c = p.ok
	case session.BluetoothOff, session.Disconnecting:
		c = p.warn
	}
	_, _ = c.Fprintf(p.w, "● %s\n", st)
}

func (p *statusPrinter) found(address string) {
	_, _ = p.muted.Fprintf(p.w, "  found %s\n", address)
}

func (p *statusPrinter) warning(format string, args ...interface{}) {
	_, _ = p.warn.Fprintf(p.w, "WARNING: "+format+"\n", args...)
}

// deviceRow is one scan result in command output.
type deviceRow struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

func printDevices(w io.Writer, format string, rows []deviceRow) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if rows == nil {
			rows = []deviceRow{}
		}
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No devices found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ADDRESS\tNAME")
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", r.Address, r.Name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d device(s) found\n", len(rows))
	return err
}

type environmentalJSON struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

type illuminanceJSON struct {
	Lux float64 `json:"lux"`
}

// printSample writes one decoded sample. Table format is one aligned line per
// sample; json format is one object per line.
func printSample(w io.Writer, format string, ev session.Event) error {
	var (
		line string
		obj  interface{}
	)
	switch e := ev.(type) {
	case session.SensorData:
		t := float64(e.TemperatureCentidegrees) / 100
		h := float64(e.HumidityCentipercent) / 100
		line = fmt.Sprintf("TEMP %7.2f °C   HUMIDITY %6.2f %%", t, h)
		obj = environmentalJSON{Temperature: t, Humidity: h}
	case session.IlluminanceData:
		lux := float64(e.LuxCentilux) / 100
		line = fmt.Sprintf("LUX  %9.2f", lux)
		obj = illuminanceJSON{Lux: lux}
	default:
		return fmt.Errorf("not a sample: %T", ev)
	}

	if format == "json" {
		b, err := json.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	_, err := fmt.Fprintln(w, strings.TrimRight(line, " "))
	return err
}
