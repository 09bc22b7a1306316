package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wokdav/certsign/generator/config"
)

func newDocCommand() *cobra.Command {
	cmdDoc := &cobra.Command{
		Use:   "doc",
		Short: "Show Documentation",
		Long:  "Get help on various topics.",
	}

	var version int
	cmdExample := &cobra.Command{
		Use:   "example",
		Short: "Show an example config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if version == 0 {
				versions := config.Versions()
				if len(versions) == 0 {
					return fmt.Errorf("no configuration versions available")
				}
				version = versions[len(versions)-1]
			}

			c, err := config.GetConfigurator(version)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), c.CertificateExample())
			return err
		},
	}
	cmdExample.Flags().IntVar(&version, "config-version", 0, "configuration version (default latest)")

	cmdDoc.AddCommand(cmdExample)
	return cmdDoc
}
