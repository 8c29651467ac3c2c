package main

import "github.com/edgeflare/txeventq/cmd/teq"

func main() {
	teq.Main()
}
