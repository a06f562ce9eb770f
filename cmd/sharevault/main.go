// Command sharevault runs and inspects a share-based custodial vault.
package main

import (
	"os"

	"github.com/roach88/sharevault/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
