package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"taglink/logix"
)

func newIdentityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Show the controller's identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagAddr == "" {
				return fmt.Errorf("--addr is required")
			}
			info, err := logix.GetIdentity(flagAddr)
			if err != nil {
				return fmt.Errorf("identity %s: %w", flagAddr, err)
			}

			fmt.Printf("Product:  %s\n", info.ProductName)
			fmt.Printf("Vendor:   %s\n", info.VendorName())
			fmt.Printf("Device:   %s\n", info.DeviceTypeName())
			fmt.Printf("Revision: %s\n", info.Revision)
			fmt.Printf("Serial:   %08X\n", info.Serial)
			return nil
		},
	}
}

func newDiscoverCmd() *cobra.Command {
	var broadcast string
	var subnet string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover EtherNet/IP devices on the local network",
		Long: `Broadcast a ListIdentity request and print every device that answers.
--subnet probes a CIDR range instead of broadcasting, for networks that
drop directed broadcasts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var devices []logix.DeviceInfo
			var err error
			if subnet != "" {
				devices, err = logix.DiscoverSubnet(subnet, flagTimeout)
			} else {
				devices, err = logix.Discover(broadcast, flagTimeout)
			}
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}

			if len(devices) == 0 {
				fmt.Println("no devices found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tPRODUCT\tVENDOR\tREVISION\tSERIAL")
			for _, d := range devices {
				fmt.Fprintf(w, "%s:%d\t%s\t%s\t%s\t%08X\n",
					d.IP, d.Port, d.ProductName, d.VendorName(), d.Revision, d.Serial)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&broadcast, "broadcast", "255.255.255.255", "broadcast address to probe")
	cmd.Flags().StringVar(&subnet, "subnet", "", "probe a CIDR range (e.g. 192.168.1.0/24) instead of broadcasting")
	return cmd
}
