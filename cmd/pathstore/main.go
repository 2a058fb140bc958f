// Command pathstore serves and manipulates a path-addressed graph store.
//
// Usage:
//
//	pathstore [flags] <command> [args]
//
// Commands:
//
//	serve    - run the HTTP API and metrics servers
//	put      - store a local file under a folder path
//	get      - retrieve a file into the staging directory
//	cat      - retrieve a file and write it to stdout
//	rm       - remove a file
//	mkdir    - create a folder path
//	rmdir    - remove a folder
//	resolve  - print the node ID of a folder path
//	clean    - empty the staging directory
//	migrate  - prepare the backend and create the root folder
//	token    - issue an API token
//
// Configuration comes from CONFIG_FILE and environment variables.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
