package v4l2

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// usbIDPaths are the usual locations of the usb.ids database
var usbIDPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/usr/share/misc/usb.ids",
	"/usr/share/usb.ids",
	"/var/lib/usbutils/usb.ids",
}

// USBIDDatabase maps USB vendor and product ids to names. Most capture
// devices are UVC cameras, so sysfs reports their USB ids.
type USBIDDatabase struct {
	vendors map[uint16]usbVendor
	mu      sync.RWMutex
}

type usbVendor struct {
	name     string
	products map[uint16]string
}

var (
	usbIDs     = newUSBIDDatabase()
	usbIDsOnce sync.Once
)

func newUSBIDDatabase() *USBIDDatabase {
	db := &USBIDDatabase{vendors: make(map[uint16]usbVendor)}
	db.addBuiltin()
	return db
}

// addBuiltin seeds common camera vendors so names resolve without usb.ids.
func (db *USBIDDatabase) addBuiltin() {
	db.vendors[0x046d] = usbVendor{
		name: "Logitech, Inc.",
		products: map[uint16]string{
			0x0825: "Webcam C270",
			0x082d: "HD Pro Webcam C920",
			0x0843: "Webcam C930e",
			0x085e: "BRIO Ultra HD Webcam",
		},
	}
	db.vendors[0x045e] = usbVendor{
		name: "Microsoft Corp.",
		products: map[uint16]string{
			0x0779: "LifeCam HD-3000",
		},
	}
	db.vendors[0x041e] = usbVendor{name: "Creative Technology, Ltd"}
	db.vendors[0x04f2] = usbVendor{name: "Chicony Electronics Co., Ltd"}
	db.vendors[0x05a3] = usbVendor{name: "ARC International"}
	db.vendors[0x05ac] = usbVendor{name: "Apple, Inc."}
	db.vendors[0x0bda] = usbVendor{name: "Realtek Semiconductor Corp."}
	db.vendors[0x0c45] = usbVendor{name: "Microdia"}
	db.vendors[0x0fd9] = usbVendor{name: "Elgato Systems GmbH"}
	db.vendors[0x13d3] = usbVendor{name: "IMC Networks"}
	db.vendors[0x1bcf] = usbVendor{name: "Sunplus Innovation Technology Inc."}
	db.vendors[0x1d6b] = usbVendor{name: "Linux Foundation"}
	db.vendors[0x2935] = usbVendor{name: "Magewell"}
}

// Load merges entries in usb.ids format from r. Vendor lines start with four
// hex digits; product lines are indented by one tab. Device class and later
// sections end the vendor list.
func (db *USBIDDatabase) Load(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	scanner := bufio.NewScanner(r)
	var vid uint16
	inVendor := false

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \r")

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "\t"); ok {
			// interface lines are indented twice
			if !inVendor || strings.HasPrefix(rest, "\t") {
				continue
			}
			pid, name, ok := parseIDLine(rest)
			if !ok {
				continue
			}
			v := db.vendors[vid]
			if v.products == nil {
				v.products = make(map[uint16]string)
			}
			v.products[pid] = name
			db.vendors[vid] = v
			continue
		}

		id, name, ok := parseIDLine(line)
		if !ok {
			// "C 0e  Video" and friends: no more vendors follow
			inVendor = false
			continue
		}
		vid, inVendor = id, true
		v := db.vendors[vid]
		v.name = name
		db.vendors[vid] = v
	}
	return scanner.Err()
}

// LoadFromFile merges a usb.ids file.
func (db *USBIDDatabase) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return db.Load(f)
}

func parseIDLine(line string) (uint16, string, bool) {
	if len(line) < 5 || line[4] != ' ' || !isHex(line[:4]) {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimSpace(line[4:]), true
}

func (db *USBIDDatabase) VendorName(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid].name
}

func (db *USBIDDatabase) ProductName(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid].products[pid]
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// loadSystemUSBIDs merges the first usb.ids found on the system, once.
func loadSystemUSBIDs() {
	usbIDsOnce.Do(func() {
		for _, path := range usbIDPaths {
			if err := usbIDs.LoadFromFile(path); err == nil {
				return
			}
		}
	})
}

// VendorName returns the name registered for a USB vendor id, or "".
func VendorName(vid uint16) string {
	loadSystemUSBIDs()
	return usbIDs.VendorName(vid)
}

// ProductName returns the name registered for a USB product, or "".
func ProductName(vid, pid uint16) string {
	loadSystemUSBIDs()
	return usbIDs.ProductName(vid, pid)
}
