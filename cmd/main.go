package main

import "github.com/LoveWonYoung/udsengine/cmd/commands"

func main() {
	commands.Execute()
}
