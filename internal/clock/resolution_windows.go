//go:build windows
// +build windows

package clock

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// timerPeriod is the system timer resolution in milliseconds requested while
// a high precision generator runs.
const timerPeriod = 1

var (
	winmm               = windows.NewLazySystemDLL("winmm.dll")
	procTimeBeginPeriod = winmm.NewProc("timeBeginPeriod")
	procTimeEndPeriod   = winmm.NewProc("timeEndPeriod")
)

// raiseTimerResolution asks winmm for a 1 ms timer period and returns the
// function restoring it.
func raiseTimerResolution() (func(), error) {
	if err := procTimeBeginPeriod.Find(); err != nil {
		return nil, err
	}
	if r, _, _ := procTimeBeginPeriod.Call(uintptr(timerPeriod)); r != 0 {
		return nil, fmt.Errorf("timeBeginPeriod(%d) returned %d", timerPeriod, r)
	}
	return func() {
		procTimeEndPeriod.Call(uintptr(timerPeriod))
	}, nil
}
