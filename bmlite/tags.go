package bmlite

// Command codes, as sent in the SetCommand field of an outbound frame
// and echoed back in the first two bytes of the application payload.
const (
	cmdCapture       = 0x0001
	cmdEnroll        = 0x0002
	cmdIdentify      = 0x0003
	cmdExtract       = 0x0005
	cmdSaveTemplate  = 0x0006
	cmdWaitFingerUp  = 0x0007
	cmdTemplateStore = 0x4002
	cmdGetVersion    = 0x3004
)

// Argument tags understood by the sensor. Only the ones the facade
// needs names for are exported; the remaining presence-only tags used
// by DoExtract, DoSaveTemplate and DeleteAll are opaque wire constants
// the sensor expects verbatim and are kept unexported in commands.go.
const (
	ArgResult  uint16 = 0x2001
	ArgCount   uint16 = 0x2002
	ArgTimeout uint16 = 0x5001
	ArgVersion uint16 = 0x6003
	ArgGet     uint16 = 0x1004
	ArgMatch   uint16 = 0x000A
	ArgID      uint16 = 0x0006
)
