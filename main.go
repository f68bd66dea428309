package main

import "github.com/denysvitali/sharedfiles-go/cmd"

func main() {
	cmd.Execute()
}
