package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taglink/logix"
)

// newReadCmds builds the typed read subcommands. Each verifies the
// controller's replied type, so `read-int` against a REAL tag fails
// instead of printing reinterpreted bytes.
func newReadCmds() []*cobra.Command {
	readBool := &cobra.Command{
		Use:   "read-bool <tag>",
		Short: "Read a BOOL tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(args[0], func(c *logix.Client, tag string) (interface{}, error) {
				return c.ReadBool(tag)
			})
		},
	}

	readInt := &cobra.Command{
		Use:   "read-int <tag>",
		Short: "Read an INT tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(args[0], func(c *logix.Client, tag string) (interface{}, error) {
				return c.ReadInt(tag)
			})
		},
	}

	readDint := &cobra.Command{
		Use:   "read-dint <tag>",
		Short: "Read a DINT tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(args[0], func(c *logix.Client, tag string) (interface{}, error) {
				return c.ReadDint(tag)
			})
		},
	}

	readReal := &cobra.Command{
		Use:   "read-real <tag>",
		Short: "Read a REAL tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(args[0], func(c *logix.Client, tag string) (interface{}, error) {
				return c.ReadReal(tag)
			})
		},
	}

	readString := &cobra.Command{
		Use:   "read-string <tag>",
		Short: "Read a STRING tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(args[0], func(c *logix.Client, tag string) (interface{}, error) {
				return c.ReadString(tag)
			})
		},
	}

	read := &cobra.Command{
		Use:   "read <tag>",
		Short: "Read a tag, printing whatever type the controller reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(args[0], func(c *logix.Client, tag string) (interface{}, error) {
				v, err := c.ReadTag(tag)
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("%v (%s)", v.GoValue(), v.TypeName()), nil
			})
		},
	}

	return []*cobra.Command{read, readBool, readInt, readDint, readReal, readString}
}

func runRead(tag string, read func(*logix.Client, string) (interface{}, error)) error {
	client, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	value, err := read(client, tag)
	if err != nil {
		return fmt.Errorf("read %s: %w", tag, err)
	}
	fmt.Println(value)
	return nil
}
