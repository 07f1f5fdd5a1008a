// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !unix

package execengine

import "os/exec"

func setProcessGroup(_ *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
