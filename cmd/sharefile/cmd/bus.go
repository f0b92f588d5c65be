package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sharefileio/sharefile/internal/bus"
)

var busCmd = &cobra.Command{
	Use:   "bus",
	Short: "run the reference rendezvous bus server in the foreground",
	Long: `bus runs internal/bus's line-delimited-JSON broadcast server, a
minimal stand-in for the externally-specified rendezvous bus (spec §1) so
send and receive can be exercised end-to-end without a hosted signaling
service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := bus.NewServer(flagBusAddr, logrus.StandardLogger())
		if err != nil {
			return err
		}
		fmt.Println("rendezvous bus listening on", srv.Addr())
		return srv.Serve()
	},
}
