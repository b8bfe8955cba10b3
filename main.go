package main

import "github.com/culprit-dev/culprit/cmd"

func main() {
	cmd.Execute()
}
