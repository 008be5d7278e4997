package isd

import (
	"fmt"
	"sort"
	"strings"
)

// MinAddr is the first row available for messages on every ISD1700 part.
const MinAddr uint16 = 0x010

// Geometry is the valid message address range of a chip, inclusive.
type Geometry struct {
	MinAddr uint16
	MaxAddr uint16
}

// Valid reports whether addr lies in the message range.
func (g Geometry) Valid(addr uint16) bool {
	return addr >= g.MinAddr && addr <= g.MaxAddr
}

// Clamp returns addr, or MinAddr when addr is outside the range.
func (g Geometry) Clamp(addr uint16) uint16 {
	if !g.Valid(addr) {
		return g.MinAddr
	}
	return addr
}

// Rows returns the number of addressable rows.
func (g Geometry) Rows() int {
	return int(g.MaxAddr) - int(g.MinAddr) + 1
}

// End addresses per part number. Each row holds 125ms at 8kHz.
var models = map[string]uint16{
	"isd1730":  0x0FF,
	"isd1740":  0x14F,
	"isd1750":  0x19F,
	"isd1760":  0x1EF,
	"isd1790":  0x2DF,
	"isd17120": 0x3CF,
	"isd17150": 0x4BF,
	"isd17180": 0x5AF,
	"isd17210": 0x69F,
	"isd17240": 0x78F,
}

// DefaultModel is the part the recorder was built around.
const DefaultModel = "isd1740"

// GeometryFor returns the geometry of a part. A non-zero maxAddr overrides
// the table.
func GeometryFor(model string, maxAddr uint16) (Geometry, error) {
	g := Geometry{MinAddr: MinAddr}
	if maxAddr != 0 {
		if maxAddr < MinAddr {
			return g, fmt.Errorf("max address %#03x is below %#03x", maxAddr, MinAddr)
		}
		g.MaxAddr = maxAddr
		return g, nil
	}
	if model == "" {
		model = DefaultModel
	}
	end, ok := models[strings.ToLower(model)]
	if !ok {
		return g, fmt.Errorf("unknown chip model %q (known: %s)", model, strings.Join(Models(), ", "))
	}
	g.MaxAddr = end
	return g, nil
}

// Models lists the known part numbers.
func Models() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}
