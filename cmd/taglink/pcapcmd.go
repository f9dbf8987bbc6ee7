package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taglink/pcap"
)

func newPcapCmd() *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		Use:   "pcap <file>",
		Short: "Summarize EtherNet/IP traffic in a capture file",
		Long: `Extract and summarize the EtherNet/IP frames in a packet capture:
encapsulation commands, CIP services, sessions, and reply errors.
--frames lists every frame instead of the summary.`,
		Example: `  taglink pcap capture.pcap
  taglink pcap --frames capture.pcap`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frames, err := pcap.ExtractFile(args[0])
			if err != nil {
				return err
			}

			if dump {
				for _, f := range frames {
					fmt.Printf("%s  %s:%d -> %s:%d  %s\n",
						f.Timestamp.Format("15:04:05.000000"),
						f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, f.Description)
				}
				return nil
			}

			pcap.Summarize(frames).WriteSummary(os.Stdout)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dump, "frames", false, "list every frame instead of the summary")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("taglink %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
		},
	}
}
