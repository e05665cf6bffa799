package bmlite

// maxEnrollIterations bounds the add-image loop in Enroll against a
// misbehaving sensor that never reports zero remaining images.
const maxEnrollIterations = 100

// Enroll runs a full enrollment session: it picks the next template
// id from the sensor's current template count, begins enrollment,
// repeatedly waits for a finger, captures an image and feeds it to
// the sensor until no more images are needed, finalises the session,
// and saves the resulting template. progress, if non-nil, is called
// once per capture with the number of images still wanted.
//
// Enroll stops at the first sub-operation error and returns it
// unchanged; the sensor's enrollment state after such an error is
// undefined, and the caller should consider resetting the sensor
// before retrying.
func (d *Device) Enroll(progress func(remaining uint32)) error {
	count, err := d.GetTemplateCount()
	if err != nil {
		return err
	}
	next := uint16(count + 1)

	if _, err := d.DoEnroll(EnrollBegin); err != nil {
		return err
	}
	for i := 0; i < maxEnrollIterations; i++ {
		if _, err := d.WaitFingerUp(0); err != nil {
			return err
		}
		if _, err := d.Capture(0); err != nil {
			return err
		}
		remaining, err := d.DoEnroll(EnrollAddImage)
		if err != nil {
			return err
		}
		if progress != nil {
			progress(remaining)
		}
		if remaining == 0 {
			break
		}
	}
	if _, err := d.DoEnroll(EnrollFinish); err != nil {
		return err
	}
	return d.DoSaveTemplate(next)
}

// Identify captures a fingerprint image, extracts a template from it,
// and matches it against the sensor's template store, returning the
// matched template id. It returns ErrNoMatch if the sensor found no
// match.
func (d *Device) Identify() (uint32, error) {
	if _, err := d.Capture(0); err != nil {
		return 0, err
	}
	if _, err := d.DoExtract(); err != nil {
		return 0, err
	}
	return d.DoIdentify()
}
