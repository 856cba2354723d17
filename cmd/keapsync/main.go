package main

import "keapsync/cmd/keapsync/cmd"

func main() {
	cmd.Execute()
}
