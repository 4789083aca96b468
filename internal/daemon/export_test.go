// SPDX-License-Identifier: GPL-3.0-only

package daemon

import "time"

// ApplyCommands exposes command handling to tests.
func (c *Coordinator) ApplyCommands(now time.Time) {
	c.applyCommands(now)
}
