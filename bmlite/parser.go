package bmlite

import "fmt"

// walkArgs walks the argument TLVs in an application payload (the
// bytes returned by Device.link, i.e. after the 6-byte transport
// sub-header has already been stripped), verifying the command echo
// and invoking visit once per argument.
//
// payload layout: cmd:2, argc:2, then argc TLVs of tag:2, length:2,
// value[length].
func walkArgs(payload []byte, cmd uint16, visit func(tag uint16, value []byte)) error {
	if len(payload) < 6 {
		return fmt.Errorf("%w: payload too short (%d bytes)", ErrUnexpectedResponse, len(payload))
	}
	if echo := readU16(payload); echo != cmd {
		return fmt.Errorf("%w: command echo %#04x does not match sent command %#04x", ErrUnexpectedResponse, echo, cmd)
	}
	argc := readU16(payload[2:])
	pos := 4
	for i := uint16(0); i < argc; i++ {
		if len(payload) < pos+4 {
			return fmt.Errorf("%w: truncated argument header", ErrUnexpectedResponse)
		}
		tag := readU16(payload[pos:])
		length := int(readU16(payload[pos+2:]))
		pos += 4
		if len(payload) < pos+length {
			return fmt.Errorf("%w: argument value runs past frame", ErrUnexpectedResponse)
		}
		visit(tag, payload[pos:pos+length])
		pos += length
	}
	return nil
}
