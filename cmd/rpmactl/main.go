// Command rpmactl is a CLI client for the rpma daemon's admin HTTP surface.
package main

import "github.com/openrdma/gorpma/cmd/rpmactl/commands"

func main() {
	commands.Execute()
}
