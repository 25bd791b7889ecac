// Copyright (c) 2024–2026 The ivsweep developers. All rights reserved.
// Project site: https://github.com/curvelab/ivsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package lan

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"testing"
	"time"
)

// serve starts a one-connection instrument stub on the loopback
// interface and returns its address. The handler receives each
// terminator-stripped command and writes its reply to w.
func serve(t *testing.T, handler func(cmd string, w *bufio.Writer)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %s", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		w := bufio.NewWriter(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			handler(strings.TrimRight(line, "\r\n"), w)
			w.Flush()
		}
	}()
	return ln.Addr().String()
}

func TestQuery(t *testing.T) {
	addr := serve(t, func(cmd string, w *bufio.Writer) {
		switch cmd {
		case "*IDN?":
			w.WriteString("Keysight Technologies,N7745A,MY61C00155,1.22\n")
		case "sens1:pow:unit?":
			// Some firmware terminates with CRLF.
			w.WriteString("0\r\n")
		default:
			w.WriteString("ERROR\n")
		}
	})
	dev, err := NewDevice(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer dev.Close()

	id, err := dev.Query("*IDN?")
	if err != nil {
		t.Fatalf("query *IDN?: %s", err)
	}
	if want := "Keysight Technologies,N7745A,MY61C00155,1.22"; id != want {
		t.Errorf("identity %q, want %q", id, want)
	}
	unit, err := dev.Query("sens1:pow:unit?")
	if err != nil {
		t.Fatalf("query unit: %s", err)
	}
	if unit != "0" {
		t.Errorf("unit %q, want %q with CRLF stripped", unit, "0")
	}
}

func TestCommandTrimsAndTerminates(t *testing.T) {
	got := make(chan string, 1)
	addr := serve(t, func(cmd string, w *bufio.Writer) {
		got <- cmd
		w.WriteString("1\n")
	})
	dev, err := NewDevice(addr)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer dev.Close()

	if err := dev.Command("  sens%d:pow:wav %gnm  ", 1, 1550.0); err != nil {
		t.Fatalf("command: %s", err)
	}
	select {
	case cmd := <-got:
		if cmd != "sens1:pow:wav 1550nm" {
			t.Errorf("wire command %q", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the instrument")
	}
}

func TestQueryBlock(t *testing.T) {
	// 8-byte payload containing a newline, which a line-oriented read
	// would split in the middle.
	payload := []byte{0x00, 0x0a, 0xff, 0x10, 0x0a, 0x00, 0x7f, 0x01}
	addr := serve(t, func(cmd string, w *bufio.Writer) {
		switch cmd {
		case "read:pow:all?":
			w.WriteString("#18")
			w.Write(payload)
			w.WriteByte('\n')
		case "*IDN?":
			w.WriteString("stub\n")
		}
	})
	dev, err := NewDevice(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer dev.Close()

	got, err := dev.QueryBlock("read:pow:all?")
	if err != nil {
		t.Fatalf("query block: %s", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload % x, want % x", got, payload)
	}
	// The trailing terminator must have been consumed so a plain
	// query still lines up afterwards.
	id, err := dev.Query("*IDN?")
	if err != nil {
		t.Fatalf("query after block: %s", err)
	}
	if id != "stub" {
		t.Errorf("post-block query %q, want %q", id, "stub")
	}
}

func TestQueryBlockRejectsBadHeader(t *testing.T) {
	addr := serve(t, func(cmd string, w *bufio.Writer) {
		w.WriteString("not a block\n")
	})
	dev, err := NewDevice(addr, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	defer dev.Close()

	if _, err := dev.QueryBlock("read:pow:all?"); err == nil {
		t.Error("expected an error for a non-block response")
	}
}
