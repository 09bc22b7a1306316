// This is the main package that initializes the command line interface.
// For more information about this project, see the README.
package main

import "github.com/wokdav/certsign/cli"

func main() {
	cli.Execute()
}
