package main

import "github.com/JakeFAU/hn-mirror/cmd"

func main() {
	cmd.Execute()
}
