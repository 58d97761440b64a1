// Package main is the entry point for the netcore stack daemon and CLI.
package main

import "firestige.xyz/netcore/cmd"

func main() {
	cmd.Execute()
}
