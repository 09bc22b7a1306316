// Package cli implements the certsign command line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/wokdav/certsign/logging"
)

// NewRootCommand returns the certsign command with all subcommands attached.
func NewRootCommand() *cobra.Command {
	var verbose, debug bool
	var logLevel string

	// rootCmd represents the base command when called without any subcommands
	rootCmd := &cobra.Command{
		Use:   "certsign",
		Short: "Build and sign X.509 certificates",
		Long: `certsign builds X.509 certificates from YAML or JSON configurations
and signs them with RSA, ECDSA or DSA keys.

Certificates can also be prepared for signing elsewhere: the unsigned
TBSCertificate is exported as hex and the signature attached afterwards.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelFromFlags(verbose, debug)
			if len(logLevel) > 0 {
				var err error
				if level, err = logging.ParseLevel(logLevel); err != nil {
					return err
				}
			}

			// certificates may go to stdout, so all logs go to stderr
			logging.Initialize(level, cmd.ErrOrStderr(), cmd.ErrOrStderr())
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "a LOT more verbose output (overrides -v)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "none, error, warning, info or debug (overrides -v and -d)")

	rootCmd.AddCommand(newIssueCommand())
	rootCmd.AddCommand(newTBSCommand())
	rootCmd.AddCommand(newAttachCommand())
	rootCmd.AddCommand(newDocCommand())

	return rootCmd
}

// Execute runs the root command with the process arguments.
// This is called by main.main().
func Execute() {
	err := NewRootCommand().Execute()
	if err != nil {
		os.Exit(1)
	}
}
