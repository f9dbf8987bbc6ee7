package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"taglink/logix"
)

func newWriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <tag> <type> <value>",
		Short: "Write a value to a tag",
		Long: `Write a value to a tag. The type names the CIP data type sent to the
controller, one of: ` + strings.Join(logix.SupportedTypeNames(), ", ") + `.

BOOL accepts true/false, 1/0, on/off.`,
		Example: `  taglink write --addr 192.168.1.10 Start BOOL true
  taglink write --addr 192.168.1.10 SetPoint REAL 72.5`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, typeName, text := args[0], args[1], args[2]

			dataType, ok := logix.TypeCodeFromName(typeName)
			if !ok {
				return fmt.Errorf("unknown type %q; use one of %s",
					typeName, strings.Join(logix.SupportedTypeNames(), ", "))
			}

			data, err := logix.ParseValue(dataType, text)
			if err != nil {
				return fmt.Errorf("parse %q as %s: %w", text, typeName, err)
			}

			client, err := openClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.WriteBytes(tag, dataType, data); err != nil {
				return fmt.Errorf("write %s: %w", tag, err)
			}
			fmt.Printf("wrote %s %s to %s\n", typeName, text, tag)
			return nil
		},
	}
}
