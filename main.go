// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import "github.com/assistd-org/assistd/cmd"

func main() {
	cmd.Execute()
}
