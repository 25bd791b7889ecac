// Package connutil wires up flags and port handling for the example
// programs: locating the MCU's tty, opening it through a serial
// backend, and enforcing that only one controller session holds the
// port at a time.
package connutil

import (
	"flag"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/curvelab/ivsweep"
	"github.com/curvelab/ivsweep/driver/vcp"
	"github.com/curvelab/ivsweep/lib/find"
	"github.com/soypat/cereal"
	"go.uber.org/multierr"
)

// Conn carries the flag-configurable connection parameters shared by
// the example programs.
type Conn struct {
	SerialPort string
	Backend    string
	Baud       int
	MeterAddr  string
	Settle     time.Duration
	Shunts     string
	Verbose    bool

	tty     string
	finderr error
}

// AddFlags is to be called before [flag.Parse].
func (c *Conn) AddFlags() {
	c.tty, c.finderr = find.Find(find.STLinkFilter)
	if c.finderr != nil {
		log.Printf("locating serial port failed, guessing ttyACM0: %s", c.finderr)
		c.tty = "ttyACM0"
	}
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.Settle == 0 {
		c.Settle = 100 * time.Millisecond
	}
	if c.Shunts == "" {
		c.Shunts = "1,1,1,1"
	}

	if c.Backend == "" {
		c.Backend = "vcp"
	}

	flag.StringVar(&c.SerialPort, "port", "/dev/"+c.tty, "serial port for the measurement MCU")
	flag.StringVar(&c.Backend, "backend", c.Backend, "serial backend, vcp or tarm")
	flag.IntVar(&c.Baud, "baud", c.Baud, "serial baud rate")
	flag.StringVar(&c.MeterAddr, "opm", "", "optical power meter address (host:port), empty to skip")
	flag.DurationVar(&c.Settle, "settle", c.Settle, "settling delay after each setpoint")
	flag.StringVar(&c.Shunts, "shunts", c.Shunts, "per-channel shunt resistances in ohms, comma separated")
	flag.BoolVar(&c.Verbose, "v", c.Verbose, "log wire traffic and sweep steps")
}

// ShuntValues parses the -shunts flag.
func (c *Conn) ShuntValues() ([]float64, error) {
	parts := strings.Split(c.Shunts, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		r, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shunt value %q: %w", p, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Open opens the configured serial port. The returned port is held
// exclusively; Open fails while a previous session is still holding it,
// and the caller must run cleanup before opening again.
func (c *Conn) Open() (ivsweep.Port, func(), error) {
	nocleanup := func() {}
	var port ivsweep.Port
	switch c.Backend {
	case "vcp":
		// The Nucleo resets when the port opens; give it time to come
		// back.
		p, err := vcp.NewVCP(c.SerialPort,
			vcp.WithBaudRate(c.Baud),
			vcp.WithResetWait(2*time.Second))
		if err != nil {
			return nil, nocleanup, fmt.Errorf("opening %s: %w", c.SerialPort, err)
		}
		port = p
	case "tarm":
		cimpl := cereal.Tarm{}
		raw, err := cimpl.OpenPort(c.SerialPort, cereal.Mode{
			BaudRate: c.Baud,
			// Short read timeout so the protocol's poll loop keeps
			// turning even when the backend ignores SetReadTimeout.
			ReadTimeout: 50 * time.Millisecond,
		})
		if err != nil {
			return nil, nocleanup, fmt.Errorf("opening %s: %w", c.SerialPort, err)
		}
		time.Sleep(2 * time.Second)
		port = &portAdapter{rwc: raw}
	default:
		return nil, nocleanup, fmt.Errorf("unknown serial backend %q", c.Backend)
	}

	cleanup := func() {
		// Best effort: drop unread bytes, then release the port.
		err := multierr.Append(port.ResetInputBuffer(), port.Close())
		if err != nil {
			log.Printf("closing serial port: %s", err)
		}
	}
	return port, cleanup, nil
}

// portAdapter upgrades a backend's io.ReadWriteCloser to ivsweep.Port.
// Backends that expose the optional methods get them passed through;
// for the rest, SetReadTimeout relies on the short open-time timeout
// and ResetInputBuffer drains by reading.
type portAdapter struct {
	rwc io.ReadWriteCloser
}

func (p *portAdapter) Read(b []byte) (int, error)  { return p.rwc.Read(b) }
func (p *portAdapter) Write(b []byte) (int, error) { return p.rwc.Write(b) }
func (p *portAdapter) Close() error                { return p.rwc.Close() }

func (p *portAdapter) SetReadTimeout(d time.Duration) error {
	if s, ok := p.rwc.(interface{ SetReadTimeout(time.Duration) error }); ok {
		return s.SetReadTimeout(d)
	}
	return nil
}

func (p *portAdapter) ResetInputBuffer() error {
	if f, ok := p.rwc.(interface{ ResetInputBuffer() error }); ok {
		return f.ResetInputBuffer()
	}
	if f, ok := p.rwc.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	// No discard support; read off whatever is immediately available.
	buf := make([]byte, 256)
	for {
		n, err := p.rwc.Read(buf)
		if err != nil || n == 0 {
			return nil
		}
	}
}
