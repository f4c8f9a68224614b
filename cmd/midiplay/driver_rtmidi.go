//go:build linux && cgo

package main

// The rtmidi driver backs the driver based output client on Linux.
import _ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
