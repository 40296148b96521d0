package main

import (
	"go-icloud-backup/cmd/icloud-backup/cmd"
)

func main() {
	// Execute the root command (defined in cmd/root.go)
	cmd.Execute()
}
