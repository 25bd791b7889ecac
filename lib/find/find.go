// Package find locates the USB serial device for the measurement MCU
// by walking /sys/class/tty. Useful because the Nucleo's ST-Link
// enumerates as a different ttyACMn depending on what else is plugged
// in.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Usbtty describes one USB serial device found under /sys.
type Usbtty struct {
	Dev, Path string
	IDp, IDv  string
	Mfg, Prod string
	Serial    string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s pid/vid %s/%s mfg/prod %s/%s serial %s",
		u.Dev, u.IDp, u.IDv, u.Mfg, u.Prod, u.Serial)
}

// FilterFn narrows device candidates.
type FilterFn func(*Usbtty) bool

// STLinkFilter matches the Nucleo board's on-board ST-Link VCP.
func STLinkFilter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "STMicroelectronics") ||
		strings.Contains(ut.Prod, "ST-LINK")
}

// SerialFilter matches a device by its USB serial string.
func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// Find searches for a USB serial device. If filter is not nil, the
// first device it accepts is chosen. Without a filter, exactly one
// device must be present.
func Find(filter FilterFn) (string, error) {
	ttys, err := AllUsbTtys()
	if err != nil {
		return "", err
	}
	if filter != nil {
		for i := range ttys {
			if filter(&ttys[i]) {
				return ttys[i].Dev, nil
			}
		}
		return "", fmt.Errorf("no tty matched the filter among %d found", len(ttys))
	}
	switch len(ttys) {
	case 0:
		return "", fmt.Errorf("no usb ttys found")
	case 1:
		return ttys[0].Dev, nil
	}
	return "", fmt.Errorf("multiple ttys: %v", ttys)
}

// AllUsbTtys lists every tty that hangs off a USB device, with the
// identifying strings read from sysfs.
func AllUsbTtys() ([]Usbtty, error) {
	const sct = "/sys/class/tty/"
	entries, err := os.ReadDir(sct)
	if err != nil {
		return nil, err
	}
	var devs []Usbtty
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		abs, err := filepath.EvalSymlinks(filepath.Join(sct, e.Name()))
		if err != nil {
			log.Printf("skipping %s: %s", e.Name(), err)
			continue
		}
		if !strings.Contains(abs, "usb") {
			continue
		}
		dev, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			log.Printf("usb tty %s without device dir: %s", abs, err)
			continue
		}
		// The interesting attribute files live one level above the
		// interface directory.
		ut := Usbtty{Dev: e.Name(), Path: abs}
		readUsbInfo(filepath.Dir(dev), &ut)
		devs = append(devs, ut)
	}
	return devs, nil
}

// readUsbInfo fills in the USB id and descriptor strings. Attributes a
// device does not expose are left empty.
func readUsbInfo(dir string, ut *Usbtty) {
	for _, attr := range []struct {
		name string
		dst  *string
	}{
		{"idProduct", &ut.IDp},
		{"idVendor", &ut.IDv},
		{"manufacturer", &ut.Mfg},
		{"product", &ut.Prod},
		{"serial", &ut.Serial},
	} {
		b, err := os.ReadFile(filepath.Join(dir, attr.name))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Printf("reading %s/%s: %s", dir, attr.name, err)
			}
			continue
		}
		*attr.dst = strings.TrimSpace(string(b))
	}
}
