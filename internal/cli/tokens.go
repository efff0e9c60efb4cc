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

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

func newTokensCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens",
		Short: "List the tokens present in the reader slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			tokens, err := o.ListTokens(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer(cmd).PrintTokens(tokens)
		},
	}
}

func newCertsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "List the signing certificates of a token",
		Long: `Unlock the token in --slot and list the certificates that can sign,
that is certificates with a private key and the digitalSignature or
nonRepudiation key usage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			slot := a.slot(cmd)
			value, err := a.acquirePIN(cmd.Context(), cmd, o, slot)
			if err != nil {
				return err
			}
			defer value.Clear()

			code, err := value.String()
			if err != nil {
				return err
			}
			certs, err := o.ListCertificates(cmd.Context(), slot, code)
			if err != nil {
				return err
			}
			return a.printer(cmd).PrintCertificates(certs)
		},
	}
	addPINFlags(cmd)
	return cmd
}

func newTestPINCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-pin",
		Short: "Check that the token opens with the PIN",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			slot := a.slot(cmd)
			value, err := a.acquirePIN(cmd.Context(), cmd, o, slot)
			if err != nil {
				return err
			}
			defer value.Clear()

			code, err := value.String()
			if err != nil {
				return err
			}
			if !o.TestConnection(cmd.Context(), code, slot) {
				return fmt.Errorf("%w: slot %d did not open with the PIN or holds no signing certificate",
					types.ErrBackendError, slot)
			}
			return a.printer(cmd).PrintSuccess("Connection successful")
		},
	}
	addPINFlags(cmd)
	return cmd
}
