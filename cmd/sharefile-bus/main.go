// Command sharefile-bus runs only the reference rendezvous bus server,
// for operators who want it in its own process rather than inside
// `sharefile bus`.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sharefileio/sharefile/internal/bus"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:4455", "address to listen on (host:port)")
	flag.Parse()

	srv, err := bus.NewServer(*addr, logrus.StandardLogger())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println("rendezvous bus listening on", srv.Addr())
	if err := srv.Serve(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
