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
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jeremyhahn/go-pdfsign/pkg/document"
	"github.com/jeremyhahn/go-pdfsign/pkg/geometry"
	"github.com/jeremyhahn/go-pdfsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// dateLayout formats certificate validity dates.
const dateLayout = "2006-01-02"

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintLibrary prints the resolved PKCS#11 library
func (p *Printer) PrintLibrary(path string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"library": path,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, path)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCandidates prints the well-known library locations
func (p *Printer) PrintCandidates(candidates []pkcs11.LibraryCandidate) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"candidates": candidates,
		})
	case OutputFormatTable:
		fmt.Fprintf(p.writer, "%-8s %-30s %s\n", "FOUND", "NAME", "PATH")
		fmt.Fprintln(p.writer, strings.Repeat("-", 80))
		for _, c := range candidates {
			fmt.Fprintf(p.writer, "%-8t %-30s %s\n", c.Exists, c.Name, c.Path)
		}
		return nil
	case OutputFormatText:
		fmt.Fprintln(p.writer, "PKCS#11 libraries:")
		for _, c := range candidates {
			mark := " "
			if c.Exists {
				mark = "*"
			}
			fmt.Fprintf(p.writer, "  %s %s (%s)\n", mark, c.Path, c.Name)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintTokens prints the tokens found in the reader slots
func (p *Printer) PrintTokens(tokens []types.TokenInfo) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"tokens": tokens,
		})
	case OutputFormatTable:
		if len(tokens) == 0 {
			fmt.Fprintln(p.writer, "No tokens found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-6s %-24s %-20s %-16s %s\n", "SLOT", "LABEL", "MANUFACTURER", "MODEL", "SERIAL")
		fmt.Fprintln(p.writer, strings.Repeat("-", 84))
		for _, t := range tokens {
			fmt.Fprintf(p.writer, "%-6d %-24s %-20s %-16s %s\n", t.SlotID, t.Label, t.Manufacturer, t.Model, t.Serial)
		}
		return nil
	case OutputFormatText:
		if len(tokens) == 0 {
			fmt.Fprintln(p.writer, "No tokens found")
			return nil
		}
		fmt.Fprintln(p.writer, "Tokens:")
		for _, t := range tokens {
			label := t.Label
			if label == "" {
				label = "(no label)"
			}
			fmt.Fprintf(p.writer, "  - slot %d: %s\n", t.SlotID, label)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCertificates prints the signing certificates of a token
func (p *Printer) PrintCertificates(certs []types.CertificateInfo) error {
	switch p.format {
	case OutputFormatJSON:
		list := make([]map[string]interface{}, len(certs))
		for i, c := range certs {
			list[i] = map[string]interface{}{
				"label":      c.Label,
				"subject":    c.SubjectCN,
				"issuer":     c.IssuerCN,
				"serial":     c.Serial,
				"not_before": c.NotBefore,
				"not_after":  c.NotAfter,
				"key_id":     c.KeyIDHex(),
			}
		}
		return p.printJSON(map[string]interface{}{
			"certificates": list,
		})
	case OutputFormatTable:
		if len(certs) == 0 {
			fmt.Fprintln(p.writer, "No signing certificates found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-20s %-30s %-30s %s\n", "LABEL", "SUBJECT", "ISSUER", "EXPIRES")
		fmt.Fprintln(p.writer, strings.Repeat("-", 96))
		for _, c := range certs {
			fmt.Fprintf(p.writer, "%-20s %-30s %-30s %s\n",
				c.Label, c.SubjectCN, c.IssuerCN, formatDate(c.NotAfter))
		}
		return nil
	case OutputFormatText:
		if len(certs) == 0 {
			fmt.Fprintln(p.writer, "No signing certificates found")
			return nil
		}
		fmt.Fprintln(p.writer, "Signing certificates:")
		for _, c := range certs {
			fmt.Fprintf(p.writer, "  - %s (%s, issued by %s)\n", c.DisplayName(), c.Label, c.IssuerCN)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintResult prints the outcome of a signing operation
func (p *Printer) PrintResult(r *types.SignatureResult) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"success":     r.Success,
			"input":       r.InputPath,
			"output":      r.OutputPath,
			"certificate": r.Certificate,
			"signer":      r.Signer,
			"field":       r.FieldName,
			"error":       r.ErrorMessage(),
		})
	case OutputFormatTable, OutputFormatText:
		if !r.Success {
			fmt.Fprintf(p.writer, "Signing failed: %s\n", r.ErrorMessage())
			return nil
		}
		fmt.Fprintf(p.writer, "Signed: %s\n", r.OutputPath)
		if r.Signer != "" {
			fmt.Fprintf(p.writer, "Signer: %s\n", r.Signer)
		}
		if r.Certificate != "" {
			fmt.Fprintf(p.writer, "Certificate: %s\n", r.Certificate)
		}
		if r.FieldName != "" {
			fmt.Fprintf(p.writer, "Field: %s\n", r.FieldName)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintPlacement prints a document rectangle computed from a view rectangle
func (p *Printer) PrintPlacement(page document.PageInfo, rect geometry.PDFRect) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"page":     page.Index,
			"rotation": page.Rotation,
			"rect":     rect,
			"width":    rect.Width(),
			"height":   rect.Height(),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "%s,%s,%s,%s\n",
			formatFloat(rect.X1), formatFloat(rect.Y1), formatFloat(rect.X2), formatFloat(rect.Y2))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message along with its kind
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"kind":   types.Kind(err),
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
