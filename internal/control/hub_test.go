// SPDX-License-Identifier: GPL-3.0-only

package control_test

import (
	"sync"
	"testing"

	"github.com/shini4i/wl-nightshift/internal/control"
	"github.com/shini4i/wl-nightshift/internal/solar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishAndStatus(t *testing.T) {
	h := control.NewHub(control.Snapshot{Curve: solar.Curve{Low: 4000, High: 6500}})
	assert.Equal(t, 6500, h.Status().Curve.High)

	h.Publish(control.Snapshot{Temperature: 5200, AppliedPhase: solar.PhaseSunset})
	s := h.Status()
	assert.Equal(t, 5200, s.Temperature)
	assert.Equal(t, solar.PhaseSunset, s.AppliedPhase)
}

func TestHub_CommandsKeepOrder(t *testing.T) {
	h := control.NewHub(control.Snapshot{})

	h.Submit(control.Command{Kind: control.CommandSetMode, Mode: solar.ModeNight})
	h.Submit(control.Command{Kind: control.CommandSetMode, Mode: solar.ModeDay})
	h.Submit(control.Command{Kind: control.CommandSetMode, Mode: solar.ModeAuto})

	select {
	case <-h.Ready():
	default:
		t.Fatal("expected ready signal")
	}

	cmds := h.Drain()
	require.Len(t, cmds, 3)
	assert.Equal(t, solar.ModeNight, cmds[0].Mode)
	assert.Equal(t, solar.ModeDay, cmds[1].Mode)
	assert.Equal(t, solar.ModeAuto, cmds[2].Mode)

	assert.Empty(t, h.Drain())
}

func TestHub_RefreshCoalesces(t *testing.T) {
	h := control.NewHub(control.Snapshot{})

	h.Refresh()
	h.Refresh()

	<-h.Refreshes()
	select {
	case <-h.Refreshes():
		t.Fatal("refreshes should coalesce")
	default:
	}
}

func TestHub_RequestMode(t *testing.T) {
	h := control.NewHub(control.Snapshot{})

	s := h.RequestMode(solar.ModeSunset)
	assert.Equal(t, solar.ModeSunset, s.RequestedMode)
	assert.Equal(t, solar.ModeSunset, h.Status().RequestedMode)

	cmds := h.Drain()
	require.Len(t, cmds, 1)
	assert.Equal(t, control.Command{Kind: control.CommandSetMode, Mode: solar.ModeSunset}, cmds[0])
}

func TestHub_RequestCurve(t *testing.T) {
	tests := []struct {
		name    string
		curve   solar.Curve
		wantErr bool
	}{
		{name: "valid curve is queued", curve: solar.Curve{Low: 3000, High: 5000}},
		{name: "equal bounds are rejected", curve: solar.Curve{Low: 5000, High: 5000}, wantErr: true},
		{name: "inverted bounds are rejected", curve: solar.Curve{Low: 6500, High: 4000}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial := solar.Curve{Low: 4000, High: 6500}
			h := control.NewHub(control.Snapshot{Curve: initial})

			s, err := h.RequestCurve(tt.curve)
			if tt.wantErr {
				assert.ErrorIs(t, err, solar.ErrInvalidCurve)
				assert.Equal(t, initial, h.Status().Curve)
				assert.Empty(t, h.Drain())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.curve, s.Curve)

			cmds := h.Drain()
			require.Len(t, cmds, 1)
			assert.Equal(t, control.CommandSetCurve, cmds[0].Kind)
			assert.Equal(t, tt.curve, cmds[0].Curve)
		})
	}
}

func TestHub_ConcurrentSubmit(t *testing.T) {
	h := control.NewHub(control.Snapshot{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Submit(control.Command{Kind: control.CommandSetMode, Mode: solar.ModeDay})
			_ = h.Status()
		}()
	}
	wg.Wait()

	assert.Len(t, h.Drain(), 50)
}
