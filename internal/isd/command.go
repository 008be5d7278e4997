package isd

import "time"

// Command is an ISD1700 SPI opcode.
type Command uint8

const (
	CmdPowerUp        Command = 0x01
	CmdStop           Command = 0x02
	CmdReset          Command = 0x03
	CmdClearInterrupt Command = 0x04
	CmdReadStatus     Command = 0x05
	CmdPowerDown      Command = 0x07
	CmdReadRecordPtr  Command = 0x08
	CmdGlobalErase    Command = 0x43
	CmdWriteAPC2      Command = 0x65
	CmdSetPlay        Command = 0x80
	CmdSetRecord      Command = 0x81
)

var commandNames = map[Command]string{
	CmdPowerUp:        "PU",
	CmdStop:           "STOP",
	CmdReset:          "RESET",
	CmdClearInterrupt: "CLR_INT",
	CmdReadStatus:     "RD_STATUS",
	CmdPowerDown:      "PD",
	CmdReadRecordPtr:  "RD_REC_PTR",
	CmdGlobalErase:    "G_ERASE",
	CmdWriteAPC2:      "WR_APC2",
	CmdSetPlay:        "SET_PLAY",
	CmdSetRecord:      "SET_REC",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// APC2 register layout.
const (
	APCDefault      uint16 = 0x06A0
	APCVolumeMask   uint16 = 0x0007
	APCFeedthroughN uint16 = 1 << 6 // set disables feedthrough
	APCSpeakerN     uint16 = 1 << 8
)

// Volume levels. 0 is loudest, 7 quietest.
const (
	MaxVolume      uint8 = 0
	MinVolume      uint8 = 7
	DefaultVolume  uint8 = MinVolume
	DisableSpeaker uint8 = 8
)

// PointerShift is the offset of the memory pointer field in SR0.
const PointerShift = 5

// Timing holds the settle delays the chip needs between start-up commands.
type Timing struct {
	PowerUp time.Duration // tPUD
	Settle  time.Duration // tSET
}

// DefaultTiming matches the datasheet minimums.
var DefaultTiming = Timing{
	PowerUp: 50 * time.Millisecond,
	Settle:  100 * time.Millisecond,
}

// APCWord computes the APC2 configuration word. Volumes outside 0-7 are
// forced to the quietest level.
func APCWord(feedthrough bool, volume uint8) uint16 {
	w := APCDefault
	if !feedthrough {
		w |= APCFeedthroughN
	}
	if uint16(volume) != uint16(volume)&APCVolumeMask {
		volume = MinVolume
	}
	return w | uint16(volume)
}
