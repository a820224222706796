package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/kevmo314/go-v4l2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Output formats shared by info and devices
const (
	outputText = "text"
	outputYAML = "yaml"
	outputJSON = "json"
)

func validOutputs() []string {
	return []string{outputText, outputYAML, outputJSON}
}

func outputFlag(cmd *cobra.Command) (string, error) {
	out, _ := cmd.Flags().GetString("output")
	out = strings.ToLower(out)
	if !slices.Contains(validOutputs(), out) {
		return "", usageError{fmt.Errorf("--output must be one of: %s", strings.Join(validOutputs(), ", "))}
	}
	return out, nil
}

func newInfoCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "info [device]",
		Short: "Show the capabilities and formats of a device",
		Long: `Query a device's capabilities, its current format and every pixel
format, frame size and frame interval it enumerates. Without an argument
the first configured device is used.`,
		Args: maxOneArg,
		RunE: runInfo,
	}
	c.Flags().String("output", outputText, "output format: text, yaml or json")
	return c
}

type deviceReport struct {
	Path         string        `json:"path" yaml:"path"`
	Card         string        `json:"card" yaml:"card"`
	Driver       string        `json:"driver" yaml:"driver"`
	Version      string        `json:"version" yaml:"version"`
	BusInfo      string        `json:"bus_info" yaml:"bus_info"`
	Capabilities []string      `json:"capabilities" yaml:"capabilities"`
	Format       *formatReport `json:"format,omitempty" yaml:"format,omitempty"`
	Formats      []formatEntry `json:"formats" yaml:"formats"`
}

type formatReport struct {
	Width        uint32 `json:"width" yaml:"width"`
	Height       uint32 `json:"height" yaml:"height"`
	PixelFormat  string `json:"pixel_format" yaml:"pixel_format"`
	Field        string `json:"field" yaml:"field"`
	BytesPerLine uint32 `json:"bytes_per_line" yaml:"bytes_per_line"`
	SizeImage    uint32 `json:"size_image" yaml:"size_image"`
}

type formatEntry struct {
	PixelFormat string      `json:"pixel_format" yaml:"pixel_format"`
	Description string      `json:"description" yaml:"description"`
	Compressed  bool        `json:"compressed,omitempty" yaml:"compressed,omitempty"`
	Emulated    bool        `json:"emulated,omitempty" yaml:"emulated,omitempty"`
	Sizes       []sizeEntry `json:"sizes,omitempty" yaml:"sizes,omitempty"`
}

type sizeEntry struct {
	Size      string   `json:"size" yaml:"size"`
	Intervals []string `json:"intervals,omitempty" yaml:"intervals,omitempty"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	out, err := outputFlag(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	dev := cfg.Capture.Devices[0]
	if len(args) == 1 {
		dev = args[0]
	}

	s, err := v4l2.Open(dev, v4l2.WithLogger(log.Slog()))
	if err != nil {
		return err
	}
	defer s.Close()

	rep, err := collectReport(s)
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), rep, out)
}

func collectReport(s *v4l2.Session) (deviceReport, error) {
	caps, err := s.QueryCapabilities()
	if err != nil {
		return deviceReport{}, err
	}
	rep := deviceReport{
		Path:         s.Path(),
		Card:         caps.Card,
		Driver:       caps.Driver,
		Version:      caps.VersionString(),
		BusInfo:      caps.BusInfo,
		Capabilities: caps.Names(),
	}

	// Output and metadata nodes have no capture format.
	if f, err := s.NegotiateFormat(nil); err == nil {
		rep.Format = &formatReport{
			Width:        f.Width,
			Height:       f.Height,
			PixelFormat:  f.PixelFormat.String(),
			Field:        f.Field.String(),
			BytesPerLine: f.BytesPerLine,
			SizeImage:    f.SizeImage,
		}
	}

	descs, err := s.EnumFormats()
	if err != nil {
		return rep, err
	}
	for _, d := range descs {
		if d.PixelFormat.Description() == "" && d.Description != "" {
			v4l2.RegisterFormat(d.PixelFormat, d.Description)
		}
		entry := formatEntry{
			PixelFormat: d.PixelFormat.String(),
			Description: d.PixelFormat.Description(),
			Compressed:  d.Compressed,
			Emulated:    d.Emulated,
		}
		sizes, err := s.EnumFrameSizes(d.PixelFormat)
		if err != nil {
			return rep, err
		}
		for _, size := range sizes {
			se := sizeEntry{Size: size.String()}
			if size.Type == v4l2.FrameSizeDiscrete {
				ivals, err := s.EnumFrameIntervals(d.PixelFormat, size.MaxWidth, size.MaxHeight)
				if err != nil {
					return rep, err
				}
				for _, iv := range ivals {
					se.Intervals = append(se.Intervals, intervalString(iv))
				}
			}
			entry.Sizes = append(entry.Sizes, se)
		}
		rep.Formats = append(rep.Formats, entry)
	}
	return rep, nil
}

func intervalString(iv v4l2.FrameInterval) string {
	if iv.Type == v4l2.FrameSizeDiscrete {
		return fmt.Sprintf("%d/%d (%.2f fps)", iv.Min.Numerator, iv.Min.Denominator, iv.Min.FPS())
	}
	return fmt.Sprintf("%.2f-%.2f fps", iv.Max.FPS(), iv.Min.FPS())
}

func writeReport(w io.Writer, rep deviceReport, format string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := io.WriteString(w, renderReport(rep))
		return err
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(14)
	fourccStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true).Width(6)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func renderReport(rep deviceReport) string {
	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, "  %s%s\n", labelStyle.Render(label), value)
	}

	b.WriteString(titleStyle.Render(rep.Card) + "\n")
	row("Path", rep.Path)
	row("Driver", rep.Driver+" "+rep.Version)
	row("Bus", rep.BusInfo)
	row("Capabilities", strings.Join(rep.Capabilities, ", "))
	if f := rep.Format; f != nil {
		row("Format", fmt.Sprintf("%dx%d %s field=%s stride=%d size=%d",
			f.Width, f.Height, f.PixelFormat, f.Field, f.BytesPerLine, f.SizeImage))
	}

	b.WriteString("\n" + titleStyle.Render("Formats") + "\n")
	if len(rep.Formats) == 0 {
		b.WriteString("  " + mutedStyle.Render("none") + "\n")
	}
	for _, f := range rep.Formats {
		desc := f.Description
		if f.Compressed {
			desc += mutedStyle.Render(" (compressed)")
		}
		if f.Emulated {
			desc += mutedStyle.Render(" (emulated)")
		}
		fmt.Fprintf(&b, "  %s%s\n", fourccStyle.Render(f.PixelFormat), desc)
		for _, s := range f.Sizes {
			line := "        " + s.Size
			if len(s.Intervals) > 0 {
				line += "  " + mutedStyle.Render(strings.Join(s.Intervals, ", "))
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}
