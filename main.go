// SPDX-License-Identifier: MPL-2.0

// Command cogmod installs and manages cognitive modules.
package main

import (
	cmd "cogmod-cli/cmd/cogmod"
)

func main() {
	cmd.Execute()
}
