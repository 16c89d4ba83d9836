package main

import "github.com/JakeFAU/site-crawler/cmd"

func main() {
	cmd.Execute()
}
