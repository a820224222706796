package main

import (
	"fmt"
	"log"
	"strings"

	v4l2 "github.com/kevmo314/go-v4l2"
)

func main() {
	devices, err := v4l2.Devices()
	if err != nil {
		log.Fatalf("Failed to list video devices: %v", err)
	}

	fmt.Printf("Found %d video devices:\n\n", len(devices))

	for i, dev := range devices {
		fmt.Printf("Device #%d:\n", i+1)
		fmt.Printf("  Path:        %s\n", dev.Path)
		fmt.Printf("  Name:        %s\n", dev.Name)
		if dev.Driver != "" {
			fmt.Printf("  Driver:      %s\n", dev.Driver)
		}
		if dev.VendorID != 0 || dev.ProductID != 0 {
			fmt.Printf("  VID:PID:     %04x:%04x\n", dev.VendorID, dev.ProductID)
			if name := dev.VendorName(); name != "" {
				fmt.Printf("  Vendor:      %s\n", name)
			}
			if name := dev.ProductName(); name != "" {
				fmt.Printf("  Product:     %s\n", name)
			}
		}

		s, err := v4l2.Open(dev.Path)
		if err != nil {
			fmt.Printf("  (cannot open: %v)\n\n", err)
			continue
		}

		caps, err := s.QueryCapabilities()
		if err == nil {
			fmt.Printf("  Card:        %s\n", caps.Card)
			fmt.Printf("  Bus:         %s\n", caps.BusInfo)
			fmt.Printf("  Version:     %s\n", caps.VersionString())
			fmt.Printf("  Caps:        %s\n", strings.Join(caps.Names(), ", "))
		}

		if f, err := s.NegotiateFormat(nil); err == nil {
			fmt.Printf("  Format:      %s\n", f)
		}

		if formats, err := s.EnumFormats(); err == nil && len(formats) > 0 {
			fmt.Printf("  Formats:\n")
			for _, fd := range formats {
				fmt.Printf("    %s  %s\n", fd.PixelFormat, fd.Description)
			}
		}

		s.Close()
		fmt.Println()
	}
}
