package bmlite

import "fmt"

// Opaque presence-only tags understood by the sensor that the core
// never interprets, only transmits verbatim: they select sub-stages
// of enroll/extract/save/delete on the sensor side.
const (
	tagExtractMarker     = 0x0008
	tagSaveTemplateStart = 0x1008
	tagDeleteAllStart    = 0x1009
	tagDeleteAllConfirm  = 0x0007
	tagWaitFingerUpEnrol = 0x0002
)

// Enroll stage markers, passed to DoEnroll.
const (
	EnrollBegin    uint16 = 0x03
	EnrollAddImage uint16 = 0x04
	EnrollFinish   uint16 = 0x05
)

// GetVersion requests the sensor's firmware version string.
func (d *Device) GetVersion() ([]byte, error) {
	var version []byte
	var ok bool
	err := d.exchange(cmdGetVersion, func(f *Frame) {
		f.Arg(ArgGet)
		f.Arg(ArgVersion)
	}, func(tag uint16, value []byte) {
		switch tag {
		case ArgResult:
			ok = true
		case ArgVersion:
			version = append(version, value...)
		}
	})
	if err != nil {
		return nil, err
	}
	if !ok || len(version) == 0 {
		return nil, fmt.Errorf("%w: missing ArgResult or empty version", ErrUnexpectedResponse)
	}
	return version, nil
}

// Capture triggers a fingerprint image capture. timeoutMs of 0 waits
// forever on the sensor side; a nonzero value bounds the wait.
func (d *Device) Capture(timeoutMs uint32) (uint8, error) {
	var result uint32
	var ok bool
	err := d.exchange(cmdCapture, func(f *Frame) {
		if timeoutMs != 0 {
			f.ArgU32(ArgTimeout, timeoutMs)
		}
	}, func(tag uint16, value []byte) {
		if tag == ArgResult {
			ok = true
			result = readUintLE(value)
		}
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: missing ArgResult", ErrUnexpectedResponse)
	}
	return uint8(result), nil
}

// DoEnroll drives one stage of the enrollment state machine (see
// EnrollBegin, EnrollAddImage, EnrollFinish). It returns the number
// of remaining images the sensor still wants, when applicable.
func (d *Device) DoEnroll(state uint16) (uint32, error) {
	var remaining uint32
	var ok bool
	err := d.exchange(cmdEnroll, func(f *Frame) {
		if state != 0 {
			f.Arg(state)
		}
	}, func(tag uint16, value []byte) {
		switch tag {
		case ArgResult:
			ok = true
		case ArgCount:
			remaining = readUintLE(value)
		}
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: missing ArgResult", ErrUnexpectedResponse)
	}
	return remaining, nil
}

// DoExtract extracts a template from the most recently captured
// image, returning the remaining image count if the sensor reports
// one.
func (d *Device) DoExtract() (uint32, error) {
	var remaining uint32
	var ok bool
	err := d.exchange(cmdExtract, func(f *Frame) {
		f.Arg(tagExtractMarker)
	}, func(tag uint16, value []byte) {
		switch tag {
		case ArgResult:
			ok = true
		case ArgCount:
			remaining = readUintLE(value)
		}
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: missing ArgResult", ErrUnexpectedResponse)
	}
	return remaining, nil
}

// DoIdentify matches the most recently extracted template against
// the sensor's on-board template store, returning the matched
// template id. If the sensor reports no match, it returns ErrNoMatch.
func (d *Device) DoIdentify() (uint32, error) {
	var id uint32
	var match uint32
	var ok bool
	err := d.exchange(cmdIdentify, nil, func(tag uint16, value []byte) {
		switch tag {
		case ArgResult:
			ok = true
		case ArgMatch:
			match = readUintLE(value)
		case ArgID:
			id = readUintLE(value)
		}
	})
	if err != nil {
		return 0, err
	}
	if match == 0 {
		return 0, ErrNoMatch
	}
	if !ok {
		return 0, fmt.Errorf("%w: missing ArgResult", ErrUnexpectedResponse)
	}
	return id, nil
}

// DoSaveTemplate persists the most recently extracted template on the
// sensor under the given template id.
func (d *Device) DoSaveTemplate(id uint16) error {
	var ok bool
	err := d.exchange(cmdSaveTemplate, func(f *Frame) {
		f.Arg(tagSaveTemplateStart)
		f.ArgU16(ArgID, id)
	}, func(tag uint16, value []byte) {
		if tag == ArgResult {
			ok = true
		}
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: missing ArgResult", ErrUnexpectedResponse)
	}
	return nil
}

// GetTemplateCount returns the number of templates currently stored
// on the sensor.
func (d *Device) GetTemplateCount() (uint32, error) {
	var count uint32
	var ok bool
	err := d.exchange(cmdTemplateStore, func(f *Frame) {
		f.Arg(ArgCount)
	}, func(tag uint16, value []byte) {
		switch tag {
		case ArgResult:
			ok = true
		case ArgCount:
			count = readUintLE(value)
		}
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: missing ArgResult", ErrUnexpectedResponse)
	}
	return count, nil
}

// WaitFingerUp waits for the sensor to report that a previously
// present finger has been lifted. timeoutMs of 0 waits forever on the
// sensor side.
func (d *Device) WaitFingerUp(timeoutMs uint32) (uint8, error) {
	var present uint32
	var ok bool
	err := d.exchange(cmdWaitFingerUp, func(f *Frame) {
		if timeoutMs != 0 {
			f.ArgU32(ArgTimeout, timeoutMs)
		}
		f.Arg(tagWaitFingerUpEnrol)
	}, func(tag uint16, value []byte) {
		if tag == ArgResult {
			ok = true
			present = readUintLE(value)
		}
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: missing ArgResult", ErrUnexpectedResponse)
	}
	return uint8(present), nil
}

// DeleteAll deletes every template stored on the sensor.
func (d *Device) DeleteAll() (uint8, error) {
	var result uint32
	var ok bool
	err := d.exchange(cmdTemplateStore, func(f *Frame) {
		f.Arg(tagDeleteAllStart)
		f.Arg(tagDeleteAllConfirm)
	}, func(tag uint16, value []byte) {
		if tag == ArgResult {
			ok = true
			result = readUintLE(value)
		}
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: missing ArgResult", ErrUnexpectedResponse)
	}
	return uint8(result), nil
}
