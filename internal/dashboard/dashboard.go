// Package dashboard renders each control cycle to a terminal.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"codeberg.org/mutker/ipmifanctl/internal/control"
	"codeberg.org/mutker/ipmifanctl/internal/thermal"
	"github.com/charmbracelet/lipgloss"
)

const (
	clearScreen = "\033[H\033[J"

	sensorBarWidth = 20
	fanBarWidth    = 15
)

var (
	colorTitleFg = lipgloss.Color("51")
	colorTitleBg = lipgloss.Color("17")
	colorBorder  = lipgloss.Color("62")
	colorLabel   = lipgloss.Color("147")
	colorDim     = lipgloss.Color("240")
	colorOk      = lipgloss.Color("78")
	colorWarn    = lipgloss.Color("220")
	colorCrit    = lipgloss.Color("196")
	colorFan     = lipgloss.Color("44")
)

var fanLevels = []rune("▁▂▃▄▅▆▇█")

// Ambient supplies the location and last outdoor reading for the title.
type Ambient interface {
	City() string
	Last() (float64, bool)
}

type Dashboard struct {
	mu      sync.Mutex
	w       io.Writer
	ambient Ambient
	clear   bool
}

type Option func(*Dashboard)

func WithAmbient(a Ambient) Option {
	return func(d *Dashboard) { d.ambient = a }
}

// WithoutClear appends frames instead of redrawing the screen.
func WithoutClear() Option {
	return func(d *Dashboard) { d.clear = false }
}

func New(w io.Writer, opts ...Option) *Dashboard {
	d := &Dashboard{w: w, clear: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dashboard) Report(_ context.Context, r control.Report) error {
	frame := d.Render(r)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.clear {
		frame = clearScreen + frame
	}
	_, err := io.WriteString(d.w, frame+"\n")
	return err
}

// Render returns one frame for r.
func (d *Dashboard) Render(r control.Report) string {
	sections := []string{
		d.renderTitle(),
		d.renderSensors(r),
		d.renderFans(r),
		d.renderFooter(r),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (d *Dashboard) renderTitle() string {
	text := "SERVER COOLING SYSTEM"
	if d.ambient != nil {
		weather := "N/A"
		if t, ok := d.ambient.Last(); ok {
			weather = fmt.Sprintf("%+.0f°C", t)
		}
		text += fmt.Sprintf("   City: %s  Weather: %s", d.ambient.City(), weather)
	}

	return lipgloss.NewStyle().
		Bold(true).
		Foreground(colorTitleFg).
		Background(colorTitleBg).
		Padding(0, 1).
		Render(text)
}

func (d *Dashboard) renderSensors(r control.Report) string {
	dim := lipgloss.NewStyle().Foreground(colorDim)
	label := lipgloss.NewStyle().Foreground(colorLabel)
	short := r.Mode.Short()

	rows := []string{label.Bold(true).Render("TEMPERATURE SENSORS")}
	for _, s := range r.Sensors() {
		ratio := s.Ratio()
		color := TempColor(ratio)
		source := "IPMI"
		if s.Override {
			source = "OVERRIDE"
		}

		row := label.Render(fmt.Sprintf("%2d:", s.ID)) + " " +
			lipgloss.NewStyle().Foreground(color).Render(fmt.Sprintf("%5.1f°C", s.Current)) + " " +
			Bar(ratio, sensorBarWidth, color) + " " +
			label.Render(fmt.Sprintf("[%3.0f%%]", ratio*100)) + " " +
			dim.Render(fmt.Sprintf("(%s: %g°C, %s)", short, s.Threshold, source))
		rows = append(rows, row)
	}

	return panel(rows)
}

func (d *Dashboard) renderFans(r control.Report) string {
	dim := lipgloss.NewStyle().Foreground(colorDim)
	label := lipgloss.NewStyle().Foreground(colorLabel)

	rows := []string{label.Bold(true).Render("FAN CONTROL")}
	for _, f := range r.Fans() {
		ratio := float64(f.Speed) / thermal.MaxSpeed
		color := SpeedColor(ratio)

		row := label.Render(fmt.Sprintf("Fan%d:", f.Fan)) + " " +
			lipgloss.NewStyle().Foreground(color).Render(fmt.Sprintf("%3d%%", f.Speed)) + " " +
			FanBar(ratio, fanBarWidth) + " " +
			dim.Render(fmt.Sprintf("(MIN:%d%% MAX:%d%%)", r.Bounds.Min, r.Bounds.Max))
		rows = append(rows, row)
	}

	return panel(rows)
}

func (d *Dashboard) renderFooter(r control.Report) string {
	dim := lipgloss.NewStyle().Foreground(colorDim)
	ok := lipgloss.NewStyle().Foreground(colorOk).Bold(true)

	return lipgloss.NewStyle().
		Padding(0, 1).
		Render(dim.Render("Status: ") + ok.Render("NORMAL") +
			dim.Render(" | Updated: ") + r.Time.Format("15:04:05"))
}

func panel(rows []string) string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// TempColor grades a current/threshold ratio.
func TempColor(ratio float64) lipgloss.Color {
	switch {
	case ratio >= 0.9:
		return colorCrit
	case ratio >= 0.82:
		return colorWarn
	default:
		return colorOk
	}
}

// SpeedColor grades a fan speed as a fraction of full speed.
func SpeedColor(ratio float64) lipgloss.Color {
	switch {
	case ratio >= 0.8:
		return colorCrit
	case ratio >= 0.5:
		return colorWarn
	default:
		return colorOk
	}
}

// Bar draws ratio as a solid bar of width cells.
func Bar(ratio float64, width int, color lipgloss.Color) string {
	filled := cells(ratio, width)
	return lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(colorDim).Render(strings.Repeat("░", width-filled))
}

// FanBar draws ratio with a block height matching the speed.
func FanBar(ratio float64, width int) string {
	filled := cells(ratio, width)
	level := int(ratio * float64(len(fanLevels)))
	if level >= len(fanLevels) {
		level = len(fanLevels) - 1
	}
	if level < 0 {
		level = 0
	}
	return lipgloss.NewStyle().Foreground(colorFan).Render(strings.Repeat(string(fanLevels[level]), filled)) +
		lipgloss.NewStyle().Foreground(colorDim).Render(strings.Repeat(string(fanLevels[0]), width-filled))
}

func cells(ratio float64, width int) int {
	filled := int(ratio * float64(width))
	if filled < 0 {
		return 0
	}
	if filled > width {
		return width
	}
	return filled
}
