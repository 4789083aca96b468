// SPDX-License-Identifier: GPL-3.0-only

package wayland

import "fmt"

// displayID is the id of the wl_display singleton.
const displayID uint32 = 1

const (
	ifaceOutput       = "wl_output"
	ifaceGammaManager = "zwlr_gamma_control_manager_v1"
)

const (
	// outputVersion is the highest wl_output version understood here (name/description events).
	outputVersion = 4

	// outputReleaseVersion is the first wl_output version with a release request.
	outputReleaseVersion = 3

	gammaManagerVersion = 1
)

// Request opcodes.
const (
	opDisplaySync            = 0
	opDisplayGetRegistry     = 1
	opRegistryBind           = 0
	opOutputRelease          = 0
	opManagerGetGammaControl = 0
	opManagerDestroy         = 1
	opGammaSetGamma          = 0
	opGammaDestroy           = 1
)

// Event opcodes.
const (
	evDisplayError      = 0
	evDisplayDeleteID   = 1
	evRegistryGlobal    = 0
	evRegistryRemove    = 1
	evCallbackDone      = 0
	evOutputName        = 4
	evOutputDescription = 5
	evGammaSize         = 0
	evGammaFailed       = 1
)

// objectKind identifies the interface of a live object id.
type objectKind int

const (
	kindDisplay objectKind = iota
	kindRegistry
	kindCallback
	kindOutput
	kindGammaManager
	kindGammaControl
)

func (k objectKind) String() string {
	switch k {
	case kindDisplay:
		return "wl_display"
	case kindRegistry:
		return "wl_registry"
	case kindCallback:
		return "wl_callback"
	case kindOutput:
		return ifaceOutput
	case kindGammaManager:
		return ifaceGammaManager
	case kindGammaControl:
		return "zwlr_gamma_control_v1"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// event is the closed set of events this client acts on.
type event interface {
	isEvent()
}

type displayError struct {
	object  uint32
	code    uint32
	message string
}

type deleteID struct {
	id uint32
}

type global struct {
	name    uint32
	iface   string
	version uint32
}

type globalRemove struct {
	name uint32
}

type callbackDone struct{}

type outputName struct {
	name string
}

type outputDescription struct {
	description string
}

type gammaSize struct {
	size uint32
}

type gammaFailed struct{}

func (displayError) isEvent()      {}
func (deleteID) isEvent()          {}
func (global) isEvent()            {}
func (globalRemove) isEvent()      {}
func (callbackDone) isEvent()      {}
func (outputName) isEvent()        {}
func (outputDescription) isEvent() {}
func (gammaSize) isEvent()         {}
func (gammaFailed) isEvent()       {}

// decodeEvent turns a raw message into a typed event for an object of the
// given kind. Events this client has no use for decode to nil.
func decodeEvent(kind objectKind, m Message) (event, error) {
	r := &argReader{buf: m.Args}

	switch kind {
	case kindDisplay:
		switch m.Opcode {
		case evDisplayError:
			var e displayError
			var err error
			if e.object, err = r.uint(); err != nil {
				return nil, err
			}
			if e.code, err = r.uint(); err != nil {
				return nil, err
			}
			if e.message, err = r.string(); err != nil {
				return nil, err
			}
			return e, nil
		case evDisplayDeleteID:
			id, err := r.uint()
			return deleteID{id: id}, err
		}

	case kindRegistry:
		switch m.Opcode {
		case evRegistryGlobal:
			var g global
			var err error
			if g.name, err = r.uint(); err != nil {
				return nil, err
			}
			if g.iface, err = r.string(); err != nil {
				return nil, err
			}
			if g.version, err = r.uint(); err != nil {
				return nil, err
			}
			return g, nil
		case evRegistryRemove:
			name, err := r.uint()
			return globalRemove{name: name}, err
		}

	case kindCallback:
		if m.Opcode == evCallbackDone {
			return callbackDone{}, nil
		}

	case kindOutput:
		switch m.Opcode {
		case evOutputName:
			name, err := r.string()
			return outputName{name: name}, err
		case evOutputDescription:
			desc, err := r.string()
			return outputDescription{description: desc}, err
		}

	case kindGammaControl:
		switch m.Opcode {
		case evGammaSize:
			size, err := r.uint()
			return gammaSize{size: size}, err
		case evGammaFailed:
			return gammaFailed{}, nil
		}
	}

	return nil, nil
}
