// Package diag holds the gateway's debug output: a raw frame dump, a bus
// load meter and a tap that streams decoded frames to live listeners.
package diag

import (
	"fmt"

	"github.com/banshee-data/canfd.gateway/internal/canfd"
)

// FormatRaw renders f as "Id: 0x103 [SFF]: DEADBEEF".
func FormatRaw(f canfd.Frame) string {
	kind := "SFF"
	if f.Extended() {
		kind = "EFF"
	}
	return fmt.Sprintf("Id: 0x%02X [%s]: %X", f.ID, kind, f.Data())
}
