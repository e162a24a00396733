package main

import "media-scribe/cmd"

func main() {
	cmd.Execute()
}
