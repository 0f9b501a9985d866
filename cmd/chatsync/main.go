package main

import "chatsync/internal/cli"

func main() {
	cli.Execute()
}
