package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/kevmo314/go-v4l2"
	"github.com/kevmo314/go-v4l2/internal/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newDevicesCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "devices",
		Short: "List video4linux devices",
		Long: `List the video nodes registered in sysfs. With --watch, keep running
and report nodes as they appear in or vanish from /dev.`,
		Args: noArgs,
		RunE: runDevices,
	}
	c.Flags().Bool("capture-only", false, "only list nodes that can capture video")
	c.Flags().Bool("watch", false, "report nodes as they are added and removed")
	c.Flags().String("output", outputText, "output format: text, yaml or json")
	return c
}

type deviceEntry struct {
	Path      string `json:"path" yaml:"path"`
	Name      string `json:"name" yaml:"name"`
	Driver    string `json:"driver,omitempty" yaml:"driver,omitempty"`
	Index     int    `json:"index" yaml:"index"`
	VendorID  string `json:"vendor_id,omitempty" yaml:"vendor_id,omitempty"`
	ProductID string `json:"product_id,omitempty" yaml:"product_id,omitempty"`
	Vendor    string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Product   string `json:"product,omitempty" yaml:"product,omitempty"`
}

func newDeviceEntry(d *v4l2.DeviceInfo) deviceEntry {
	e := deviceEntry{Path: d.Path, Name: d.Name, Driver: d.Driver, Index: d.Index}
	if d.VendorID != 0 || d.ProductID != 0 {
		e.VendorID = fmt.Sprintf("%04x", d.VendorID)
		e.ProductID = fmt.Sprintf("%04x", d.ProductID)
		e.Vendor = d.VendorName()
		e.Product = d.ProductName()
	}
	return e
}

func runDevices(cmd *cobra.Command, args []string) error {
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

	list := v4l2.Devices
	if only, _ := cmd.Flags().GetBool("capture-only"); only {
		list = v4l2.CaptureDevices
	}
	devices, err := list()
	if err != nil {
		return err
	}
	entries := make([]deviceEntry, 0, len(devices))
	for _, d := range devices {
		entries = append(entries, newDeviceEntry(d))
	}
	if err := writeDevices(cmd.OutOrStdout(), entries, out); err != nil {
		return err
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return watchDevices(ctx, "/dev", cmd.OutOrStdout(), log.WithComponent("watch"))
	}
	return nil
}

var deviceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Width(14)

func writeDevices(w io.Writer, entries []deviceEntry, format string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case outputYAML:
		return yaml.NewEncoder(w).Encode(entries)
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render("no video devices"))
		return err
	}
	for _, e := range entries {
		line := deviceStyle.Render(e.Path) + e.Name
		if e.Driver != "" {
			line += mutedStyle.Render(" [" + e.Driver + "]")
		}
		if e.VendorID != "" {
			line += mutedStyle.Render(" " + e.VendorID + ":" + e.ProductID)
		}
		if name := strings.TrimSpace(e.Vendor + " " + e.Product); name != "" {
			line += mutedStyle.Render(" " + name)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

var videoNode = regexp.MustCompile(`^video[0-9]+$`)

// watchDevices reports videoN nodes created in or removed from dir until ctx
// is done.
func watchDevices(ctx context.Context, dir string, w io.Writer, log *logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Debug("watching for video nodes", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !videoNode.MatchString(filepath.Base(ev.Name)) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				fmt.Fprintf(w, "added   %s\n", ev.Name)
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				fmt.Fprintf(w, "removed %s\n", ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "error", err)
		}
	}
}
