package isd

import "testing"

func TestCurrentPointer_IsShift(t *testing.T) {
	for s := 0; s <= 0xFFFF; s++ {
		if got := CurrentPointer(Status(s)); got != uint16(s)>>5 {
			t.Fatalf("CurrentPointer(%#04x) = %#03x, want %#03x", s, got, uint16(s)>>5)
		}
	}
}

func TestStatusFlags(t *testing.T) {
	s := Status(0x14F<<PointerShift) | StatusPowerUp | StatusInterrupt

	if s.Pointer() != 0x14F {
		t.Errorf("Expected pointer 0x14F, got %#03x", s.Pointer())
	}
	if !s.PoweredUp() || !s.Interrupted() {
		t.Errorf("Expected PU and INT set in %s", s)
	}
	if s.EOM() || s.Full() || s.CmdErr() {
		t.Errorf("Unexpected flags in %s", s)
	}
}

func TestSR1Flags(t *testing.T) {
	s := SR1Ready | SR1Recording
	if !s.Ready() || !s.Recording() || s.Playing() || s.Erasing() {
		t.Errorf("Unexpected SR1 decoding for %08b", uint8(s))
	}
}
