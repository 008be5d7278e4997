package isd

import (
	"strings"
	"testing"
)

func TestGeometryFor(t *testing.T) {
	tests := []struct {
		model   string
		maxAddr uint16
		want    uint16
		wantErr string
	}{
		{model: "", want: 0x14F},
		{model: "isd1740", want: 0x14F},
		{model: "ISD1760", want: 0x1EF},
		{model: "isd17240", want: 0x78F},
		{model: "isd1740", maxAddr: 0x0FF, want: 0x0FF},
		{model: "isd9999", wantErr: "unknown chip model"},
		{model: "isd1740", maxAddr: 0x008, wantErr: "below"},
	}

	for _, tt := range tests {
		g, err := GeometryFor(tt.model, tt.maxAddr)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("GeometryFor(%q, %#x): expected error containing %q, got %v", tt.model, tt.maxAddr, tt.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("GeometryFor(%q, %#x): unexpected error %v", tt.model, tt.maxAddr, err)
			continue
		}
		if g.MinAddr != MinAddr || g.MaxAddr != tt.want {
			t.Errorf("GeometryFor(%q, %#x): got %+v", tt.model, tt.maxAddr, g)
		}
	}
}

func TestGeometryClamp(t *testing.T) {
	g := Geometry{MinAddr: 0x010, MaxAddr: 0x14F}

	cases := map[uint16]uint16{
		0x000: 0x010,
		0x00F: 0x010,
		0x010: 0x010,
		0x0A0: 0x0A0,
		0x14F: 0x14F,
		0x150: 0x010,
	}
	for in, want := range cases {
		if got := g.Clamp(in); got != want {
			t.Errorf("Clamp(%#03x) = %#03x, want %#03x", in, got, want)
		}
	}
	if g.Rows() != 320 {
		t.Errorf("Expected 320 rows, got %d", g.Rows())
	}
}

func TestModelsSorted(t *testing.T) {
	m := Models()
	if m[0] != "isd1730" || m[len(m)-1] != "isd17240" {
		t.Errorf("Unexpected model order: %v", m)
	}
}
