package main

import "github.com/openwrt-k/buildhelper/cmd"

func main() {
	cmd.Execute()
}
