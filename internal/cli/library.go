// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pdfsign.
//
// go-pdfsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLibraryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Locate the PKCS#11 library",
		Long: `Resolve the PKCS#11 library used for signing. An explicit --library
is validated; otherwise the well-known install locations for this
platform are searched in order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer := a.printer(cmd)

			if all, _ := cmd.Flags().GetBool("candidates"); all {
				return printer.PrintCandidates(a.locator.Candidates())
			}

			path, err := a.locator.Locate(a.library())
			if err != nil {
				return err
			}
			if save, _ := cmd.Flags().GetBool("save"); save {
				if a.settings == nil {
					return fmt.Errorf("settings are disabled")
				}
				if err := a.settings.SetLibrary(path); err != nil {
					return fmt.Errorf("failed to save library: %w", err)
				}
				a.logger.Info("library saved", "path", path, "settings", a.settings.Path())
			}
			return printer.PrintLibrary(path)
		},
	}
	cmd.Flags().Bool("candidates", false, "list every well-known location and whether it exists")
	cmd.Flags().Bool("save", false, "remember the resolved library in the settings")
	return cmd
}
