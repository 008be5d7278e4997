package isd

import "fmt"

// Status is the SR0 register as it was when a command was clocked in.
//
// It is a stale read: a command that changes the chip state returns the
// status from before the change. Poll again (or read the interrupt line)
// to observe the effect.
type Status uint16

// SR0 flag bits.
const (
	StatusCmdErr    Status = 1 << 0
	StatusFull      Status = 1 << 1
	StatusPowerUp   Status = 1 << 2
	StatusEOM       Status = 1 << 3
	StatusInterrupt Status = 1 << 4
)

// CurrentPointer extracts the memory pointer field from a status word.
func CurrentPointer(s Status) uint16 {
	return uint16(s) >> PointerShift
}

// Pointer is CurrentPointer(s).
func (s Status) Pointer() uint16 { return CurrentPointer(s) }

func (s Status) CmdErr() bool      { return s&StatusCmdErr != 0 }
func (s Status) Full() bool        { return s&StatusFull != 0 }
func (s Status) PoweredUp() bool   { return s&StatusPowerUp != 0 }
func (s Status) EOM() bool         { return s&StatusEOM != 0 }
func (s Status) Interrupted() bool { return s&StatusInterrupt != 0 }

func (s Status) String() string {
	return fmt.Sprintf("SR0[%#04x ptr=%#03x pu=%t int=%t eom=%t full=%t cmderr=%t]",
		uint16(s), s.Pointer(), s.PoweredUp(), s.Interrupted(), s.EOM(), s.Full(), s.CmdErr())
}

// SR1 is the second status byte, only returned by RD_STATUS.
type SR1 uint8

const (
	SR1Ready     SR1 = 1 << 0
	SR1Erasing   SR1 = 1 << 1
	SR1Playing   SR1 = 1 << 2
	SR1Recording SR1 = 1 << 3
)

func (s SR1) Ready() bool     { return s&SR1Ready != 0 }
func (s SR1) Erasing() bool   { return s&SR1Erasing != 0 }
func (s SR1) Playing() bool   { return s&SR1Playing != 0 }
func (s SR1) Recording() bool { return s&SR1Recording != 0 }
