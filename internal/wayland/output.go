// SPDX-License-Identifier: GPL-3.0-only

package wayland

import "github.com/rs/zerolog/log"

// Output is one compositor display and the gamma state this client holds for it.
// The ramp buffer belongs to the record: it is released when the record is
// removed or its gamma control fails, and nothing else keeps a reference.
type Output struct {
	// Global is the registry name the compositor announced the output under.
	Global      uint32
	Name        string
	Description string
	// RampSize is the number of entries per channel, zero until the compositor reports it.
	RampSize uint32

	object  uint32
	version uint32
	gamma   uint32
	buffer  Buffer
}

// OutputInfo is a read-only view of an output.
type OutputInfo struct {
	Global      uint32
	Name        string
	Description string
	RampSize    uint32
	Usable      bool
}

func (o *Output) info() OutputInfo {
	return OutputInfo{
		Global:      o.Global,
		Name:        o.Name,
		Description: o.Description,
		RampSize:    o.RampSize,
		Usable:      o.usable(),
	}
}

// usable reports whether the output has a live gamma control and a table to upload.
func (o *Output) usable() bool {
	return o.gamma != 0 && o.buffer != nil && o.RampSize > 0
}

// matches reports whether the output is selected by the name filter.
// An empty filter selects every output.
func (o *Output) matches(filter map[string]bool) bool {
	if len(filter) == 0 {
		return true
	}
	return filter[o.Name] || filter[o.Description]
}

func (o *Output) releaseBuffer() {
	if o.buffer == nil {
		return
	}
	if err := o.buffer.Close(); err != nil {
		log.Warn().Err(err).Uint32("output", o.Global).Msg("Failed to release gamma table")
	}
	o.buffer = nil
}
