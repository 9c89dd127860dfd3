package cmd

import (
	"fmt"
	"log"
	"strings"

	"github.com/Simenb123/saft"
	"github.com/spf13/cobra"
)

// schemaCmd represents the schema command
var schemaCmd = &cobra.Command{
	Use:   "schema [entity]",
	Args:  cobra.MaximumNArgs(1),
	Short: "Show the column layout of the output tables",
	Run: func(_ *cobra.Command, args []string) {
		if len(args) == 1 {
			cols := saft.Columns(args[0])
			if cols == nil {
				log.Fatalf("unknown entity %q", args[0])
			}
			fmt.Println(strings.Join(cols, "\n"))
			return
		}
		for _, entity := range saft.Entities() {
			fmt.Printf("%-22s %s\n", entity, strings.Join(saft.Columns(entity), ","))
		}
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
