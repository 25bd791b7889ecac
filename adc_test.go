package ivsweep

import (
	"math"
	"strings"
	"testing"
)

// scriptedPort answers each request line via the given table; requests
// with no entry stay silent.
func scriptedPort(replies map[string]string) *fakePort {
	port := &fakePort{}
	port.onWrite = func(f *fakePort, line string) {
		if r, ok := replies[line]; ok {
			f.respond(r)
		}
	}
	return port
}

func TestReadVoltageFormats(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  float64
	}{
		{"voltage only", "1.2345", 1.2345},
		{"voltage with raw code", "0.5000,1234", 0.5},
		{"integer voltage", "2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := scriptedPort(map[string]string{"read_adc,1": tt.reply})
			adc := NewADC(port, WithADCTimeout(testTimeout))
			v, err := adc.ReadVoltage(1)
			if err != nil {
				t.Fatal(err)
			}
			if v != tt.want {
				t.Errorf("got %g, want %g", v, tt.want)
			}
		})
	}
}

func TestReadVoltageFailures(t *testing.T) {
	t.Run("silence", func(t *testing.T) {
		adc := NewADC(&fakePort{}, WithADCTimeout(testTimeout))
		if _, err := adc.ReadVoltage(0); err != ErrTimeout {
			t.Errorf("got %v, want ErrTimeout", err)
		}
	})
	t.Run("garbage", func(t *testing.T) {
		port := scriptedPort(map[string]string{"read_adc,0": "ERROR:ADC_NOT_INIT"})
		adc := NewADC(port, WithADCTimeout(testTimeout))
		if _, err := adc.ReadVoltage(0); err != ErrTimeout {
			t.Errorf("got %v, want ErrTimeout for a malformed response", err)
		}
	})
	t.Run("bad channel", func(t *testing.T) {
		port := &fakePort{}
		adc := NewADC(port, WithADCTimeout(testTimeout))
		if _, err := adc.ReadVoltage(ADCChannels); err == nil {
			t.Fatal("out-of-range channel accepted")
		}
		if len(port.writes) != 0 {
			t.Errorf("rejected read still wrote %q", port.writes)
		}
	})
}

func TestReadCurrent(t *testing.T) {
	port := scriptedPort(map[string]string{"read_adc,0": "2.0"})
	adc := NewADC(port,
		WithADCTimeout(testTimeout),
		WithShuntResistors([]float64{200, 200, 200, 200}))
	i, err := adc.ReadCurrent(0)
	if err != nil {
		t.Fatal(err)
	}
	if i != 0.01 {
		t.Errorf("got %g A, want 0.01", i)
	}
}

func TestReadCurrentPropagatesFailure(t *testing.T) {
	adc := NewADC(&fakePort{}, WithADCTimeout(testTimeout))
	if _, err := adc.ReadCurrent(2); err != ErrTimeout {
		t.Errorf("got %v, want the voltage read's ErrTimeout", err)
	}
}

func TestReadAllVoltagesKeepsPositions(t *testing.T) {
	port := scriptedPort(map[string]string{
		"read_adc,0": "0.1",
		"read_adc,1": "0.2",
		// channel 2 stays silent
		"read_adc,3": "0.4",
	})
	adc := NewADC(port, WithADCTimeout(testTimeout))
	got := adc.ReadAllVoltages()
	if len(got) != ADCChannels {
		t.Fatalf("got %d entries, want %d", len(got), ADCChannels)
	}
	if got[0] != 0.1 || got[1] != 0.2 || got[3] != 0.4 {
		t.Errorf("values misplaced: %v", got)
	}
	if !math.IsNaN(got[2]) {
		t.Errorf("failed channel got %g, want NaN", got[2])
	}
	// Channels queried in order, none skipped.
	var reads []string
	for _, w := range port.writes {
		if strings.HasPrefix(w, "read_adc,") {
			reads = append(reads, w)
		}
	}
	want := []string{"read_adc,0", "read_adc,1", "read_adc,2", "read_adc,3"}
	if len(reads) != len(want) {
		t.Fatalf("got %d reads %v, want %v", len(reads), reads, want)
	}
	for i := range want {
		if reads[i] != want[i] {
			t.Errorf("read %d was %q, want %q", i, reads[i], want[i])
		}
	}
}

func TestReadRaw(t *testing.T) {
	port := scriptedPort(map[string]string{"read_adc_raw,2": "16384"})
	adc := NewADC(port, WithADCTimeout(testTimeout))
	raw, err := adc.ReadRaw(2)
	if err != nil {
		t.Fatal(err)
	}
	if raw != 16384 {
		t.Errorf("got %d, want 16384", raw)
	}
}

func TestSelfTest(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		port := scriptedPort(map[string]string{"test_adc": "OK:0x4283"})
		adc := NewADC(port, WithADCTimeout(testTimeout))
		cfg, err := adc.SelfTest()
		if err != nil {
			t.Fatal(err)
		}
		if cfg != "0x4283" {
			t.Errorf("config = %q, want %q", cfg, "0x4283")
		}
	})
	t.Run("device error", func(t *testing.T) {
		port := scriptedPort(map[string]string{"test_adc": "ERROR:I2C_FAIL:1,2"})
		adc := NewADC(port, WithADCTimeout(testTimeout))
		if _, err := adc.SelfTest(); err == nil {
			t.Fatal("device error reported as success")
		}
	})
}

func TestShuntDefaultsAndCopy(t *testing.T) {
	adc := NewADC(&fakePort{})
	for ch := 0; ch < ADCChannels; ch++ {
		if adc.Shunt(ch) != 1.0 {
			t.Errorf("channel %d default shunt = %g, want 1", ch, adc.Shunt(ch))
		}
	}

	shunts := []float64{200, 100, 50, 25}
	adc = NewADC(&fakePort{}, WithShuntResistors(shunts))
	shunts[0] = 9999 // caller mutation must not leak in
	if adc.Shunt(0) != 200 {
		t.Errorf("shunt table aliased the caller's slice: %g", adc.Shunt(0))
	}

	if err := adc.SetShunt(1, 330); err != nil {
		t.Fatal(err)
	}
	if adc.Shunt(1) != 330 {
		t.Errorf("SetShunt did not apply: %g", adc.Shunt(1))
	}
	if err := adc.SetShunt(1, 0); err == nil {
		t.Error("zero shunt resistance accepted")
	}
	if err := adc.SetShunt(ADCChannels, 100); err == nil {
		t.Error("out-of-range channel accepted")
	}
}
