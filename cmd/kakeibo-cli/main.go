// Command kakeibo-cli runs maintenance tasks against the kakeibo database:
// listing and settling card bills, exporting transactions and managing
// schema migrations.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
