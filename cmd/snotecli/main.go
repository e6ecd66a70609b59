package main

import "go.vocdoni.io/spendnote/cmd/snotecli/commands"

func main() {
	commands.Execute()
}
