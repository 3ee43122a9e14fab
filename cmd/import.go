package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// importCmd resolves a single share link from the command line, mostly
// useful for checking what a submitter's link will import as.
var importCmd = &cobra.Command{
	Use:   "import <share-url>",
	Short: "Resolve a cbpmr.info share link into normalized diary fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, faillog := newResolver()
		defer faillog.Close()

		result, err := resolver.Resolve(context.Background(), args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
