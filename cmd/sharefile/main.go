// Command sharefile is the CLI rendering of the transport engine: send
// files over a rendezvous code, receive from one, or run the
// reference rendezvous bus.
package main

import "github.com/sharefileio/sharefile/cmd/sharefile/cmd"

func main() {
	cmd.Execute()
}
