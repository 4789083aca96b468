// SPDX-License-Identifier: GPL-3.0-only

package udev

import (
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const card0 = "/devices/pci0000:00/0000:00:02.0/drm/card0"

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func hotplug(kobj string) netlink.UEvent {
	return netlink.UEvent{
		Action: netlink.CHANGE,
		KObj:   kobj,
		Env: map[string]string{
			"SUBSYSTEM": "drm",
			"DEVNAME":   "dri/card0",
			"HOTPLUG":   "1",
			"CONNECTOR": "95",
		},
	}
}

func TestNewMonitor(t *testing.T) {
	handlerCalled := false
	handler := func(event Event) {
		handlerCalled = true
	}

	monitor := NewMonitor(handler)
	assert.NotNil(t, monitor)
	assert.NotNil(t, monitor.handler)
	assert.NotNil(t, monitor.lastEventTime)

	monitor.handler(Event{Type: EventHotplug})
	assert.True(t, handlerCalled)
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "hotplug", EventHotplug.String())
	assert.Equal(t, "add", EventAdd.String())
	assert.Equal(t, "remove", EventRemove.String())
	assert.Equal(t, "event(9)", EventType(9).String())
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	monitor := NewMonitor(nil)
	err := monitor.Stop()
	assert.NoError(t, err)
}

func TestMonitor_HandleEvent(t *testing.T) {
	tests := []struct {
		name          string
		uevent        netlink.UEvent
		expectHandler bool
		expectedType  EventType
	}{
		{
			name:          "connector change triggers hotplug",
			uevent:        hotplug(card0),
			expectHandler: true,
			expectedType:  EventHotplug,
		},
		{
			name: "change without HOTPLUG is ignored",
			uevent: netlink.UEvent{
				Action: netlink.CHANGE,
				KObj:   card0,
				Env:    map[string]string{"SUBSYSTEM": "drm"},
			},
			expectHandler: false,
		},
		{
			name: "card add triggers add",
			uevent: netlink.UEvent{
				Action: netlink.ADD,
				KObj:   card0,
				Env:    map[string]string{"SUBSYSTEM": "drm", "DEVNAME": "dri/card0"},
			},
			expectHandler: true,
			expectedType:  EventAdd,
		},
		{
			name: "card remove triggers remove",
			uevent: netlink.UEvent{
				Action: netlink.REMOVE,
				KObj:   card0,
				Env:    map[string]string{"SUBSYSTEM": "drm", "DEVNAME": "dri/card0"},
			},
			expectHandler: true,
			expectedType:  EventRemove,
		},
		{
			name: "bind action is ignored",
			uevent: netlink.UEvent{
				Action: netlink.BIND,
				KObj:   card0,
				Env:    map[string]string{"SUBSYSTEM": "drm"},
			},
			expectHandler: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			monitor := NewMonitor(rec.handle)
			monitor.handleEvent(tt.uevent)

			events := rec.snapshot()
			if tt.expectHandler {
				require.Len(t, events, 1, "handler should have been called")
				assert.Equal(t, tt.expectedType, events[0].Type)
				assert.Equal(t, tt.uevent.KObj, events[0].Device)
			} else {
				assert.Empty(t, events, "handler should not have been called")
			}
		})
	}
}

func TestMonitor_HandleEvent_NilHandler(t *testing.T) {
	monitor := NewMonitor(nil)
	assert.NotPanics(t, func() {
		monitor.handleEvent(hotplug(card0))
	})
}

func TestMonitor_CreateMatcher(t *testing.T) {
	monitor := NewMonitor(nil)
	matcher := monitor.createMatcher()

	assert.NotNil(t, matcher)
	assert.Len(t, matcher.Rules, 3) // change, add and remove rules

	err := matcher.Compile()
	require.NoError(t, err)

	tests := []struct {
		name     string
		uevent   netlink.UEvent
		expected bool
	}{
		{
			name:     "matches connector hotplug",
			uevent:   hotplug(card0),
			expected: true,
		},
		{
			name: "matches card add",
			uevent: netlink.UEvent{
				Action: netlink.ADD,
				KObj:   card0,
				Env:    map[string]string{"SUBSYSTEM": "drm", "DEVNAME": "dri/card1"},
			},
			expected: true,
		},
		{
			name: "matches card remove",
			uevent: netlink.UEvent{
				Action: netlink.REMOVE,
				KObj:   card0,
				Env:    map[string]string{"SUBSYSTEM": "drm", "DEVNAME": "dri/card0"},
			},
			expected: true,
		},
		{
			name: "does not match render node add",
			uevent: netlink.UEvent{
				Action: netlink.ADD,
				KObj:   "/devices/pci0000:00/0000:00:02.0/drm/renderD128",
				Env:    map[string]string{"SUBSYSTEM": "drm", "DEVNAME": "dri/renderD128"},
			},
			expected: false,
		},
		{
			name: "does not match change without hotplug flag",
			uevent: netlink.UEvent{
				Action: netlink.CHANGE,
				KObj:   card0,
				Env:    map[string]string{"SUBSYSTEM": "drm", "HOTPLUG": "0"},
			},
			expected: false,
		},
		{
			name: "does not match different subsystem",
			uevent: netlink.UEvent{
				Action: netlink.ADD,
				KObj:   "/devices/pci0000:00/usb1/1-1",
				Env:    map[string]string{"SUBSYSTEM": "usb", "DEVNAME": "dri/card0"},
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := matcher.Evaluate(tt.uevent)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestMonitor_SetRecoveryHandler(t *testing.T) {
	monitor := NewMonitor(nil)
	assert.Nil(t, monitor.recoveryHandler)

	handlerCalled := false
	monitor.SetRecoveryHandler(func() {
		handlerCalled = true
	})
	require.NotNil(t, monitor.recoveryHandler)

	monitor.recoveryHandler()
	assert.True(t, handlerCalled)
}

func TestMonitor_ProcessEvents_Recovery(t *testing.T) {
	rec := &recorder{}
	monitor := NewMonitor(rec.handle)

	recovered := make(chan struct{}, 1)
	monitor.SetRecoveryHandler(func() {
		recovered <- struct{}{}
	})

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	done := make(chan struct{})
	go func() {
		monitor.processEvents(queue, errs)
		close(done)
	}()

	errs <- syscall.ENOBUFS
	select {
	case <-recovered:
	case <-time.After(time.Second):
		t.Fatal("recovery handler was not called")
	}

	errs <- errors.New("transient")
	queue <- hotplug(card0)
	close(queue)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processEvents did not return after queue closed")
	}
	assert.Len(t, rec.snapshot(), 1)
}

func TestIsBufferOverflowError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error returns false",
			err:      nil,
			expected: false,
		},
		{
			name:     "ENOBUFS syscall error returns true",
			err:      syscall.ENOBUFS,
			expected: true,
		},
		{
			name:     "error message with 'no buffer space available' returns true",
			err:      errors.New("unable to check available uevent, err: no buffer space available"),
			expected: true,
		},
		{
			name:     "generic error returns false",
			err:      errors.New("some other error"),
			expected: false,
		},
		{
			name:     "different syscall error returns false",
			err:      syscall.EINVAL,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isBufferOverflowError(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestMonitor_Debouncing(t *testing.T) {
	rec := &recorder{}
	monitor := NewMonitor(rec.handle)

	// One connector change fans out into several uevents for the same card
	monitor.handleEvent(hotplug(card0))
	monitor.handleEvent(hotplug(card0))
	monitor.handleEvent(hotplug(card0))
	assert.Len(t, rec.snapshot(), 1, "repeated hotplug within debounce window should be ignored")

	// A second card is tracked separately
	monitor.handleEvent(hotplug("/devices/pci0000:00/0000:01:00.0/drm/card1"))
	assert.Len(t, rec.snapshot(), 2)

	// So is a different action on the first card
	monitor.handleEvent(netlink.UEvent{
		Action: netlink.REMOVE,
		KObj:   card0,
		Env:    map[string]string{"SUBSYSTEM": "drm", "DEVNAME": "dri/card0"},
	})
	assert.Len(t, rec.snapshot(), 3)
}

func TestMonitor_ShouldDebounce(t *testing.T) {
	monitor := NewMonitor(nil)
	key := "hotplug:" + card0

	assert.False(t, monitor.shouldDebounce(key), "first call should not debounce")
	assert.True(t, monitor.shouldDebounce(key), "immediate second call should debounce")

	monitor.mu.Lock()
	monitor.lastEventTime[key] = time.Now().Add(-debounceWindow - time.Millisecond)
	monitor.mu.Unlock()

	assert.False(t, monitor.shouldDebounce(key), "call after the window should not debounce")
}

func TestMonitor_ShouldDebounce_Cleanup(t *testing.T) {
	monitor := NewMonitor(nil)

	oldKey := "remove:/devices/old/drm/card3"
	monitor.mu.Lock()
	monitor.lastEventTime[oldKey] = time.Now().Add(-2 * time.Minute)
	monitor.mu.Unlock()

	newKey := "add:/devices/new/drm/card4"
	monitor.shouldDebounce(newKey)

	monitor.mu.Lock()
	_, oldExists := monitor.lastEventTime[oldKey]
	_, newExists := monitor.lastEventTime[newKey]
	monitor.mu.Unlock()

	assert.False(t, oldExists, "old entry should be cleaned up")
	assert.True(t, newExists, "new entry should exist")
}
