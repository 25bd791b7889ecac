package find

import "testing"

func TestSTLinkFilter(t *testing.T) {
	tests := []struct {
		ut   Usbtty
		want bool
	}{
		{Usbtty{Mfg: "STMicroelectronics", Prod: "STM32 STLink"}, true},
		{Usbtty{Prod: "ST-LINK/V2-1"}, true},
		{Usbtty{Mfg: "Arduino", Prod: "Uno"}, false},
		{Usbtty{}, false},
	}
	for _, tt := range tests {
		if got := STLinkFilter(&tt.ut); got != tt.want {
			t.Errorf("STLinkFilter(%v) = %t, want %t", tt.ut, got, tt.want)
		}
	}
}

func TestSerialFilter(t *testing.T) {
	f := SerialFilter("066BFF3")
	if !f(&Usbtty{Serial: "066BFF3"}) {
		t.Error("matching serial rejected")
	}
	if f(&Usbtty{Serial: "other"}) {
		t.Error("non-matching serial accepted")
	}
}
