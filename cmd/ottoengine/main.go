// Command ottoengine is the rule engine's entry point; see adapter/cli
// for the serve and validate subcommands.
package main

import "github.com/ottoengine/ottoengine/adapter/cli"

func main() {
	cli.Execute()
}
