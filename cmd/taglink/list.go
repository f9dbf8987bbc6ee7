package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var programs bool
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the controller's tags",
		Long: `List the controller-scope tags with their types. --programs lists the
program names instead; --all includes every program's tags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient()
			if err != nil {
				return err
			}
			defer client.Close()

			if programs {
				names, err := client.Programs()
				if err != nil {
					return fmt.Errorf("list programs: %w", err)
				}
				for _, name := range names {
					fmt.Println(name)
				}
				return nil
			}

			tags, err := client.ControllerTags()
			if err != nil {
				return fmt.Errorf("list tags: %w", err)
			}
			if all {
				tags, err = client.AllTags()
				if err != nil {
					return fmt.Errorf("list tags: %w", err)
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE")
			for _, tag := range tags {
				fmt.Fprintf(w, "%s\t%s\n", tag.Name, tag.TypeName())
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&programs, "programs", false, "list program names instead of tags")
	cmd.Flags().BoolVar(&all, "all", false, "include tags from every program")
	return cmd
}
