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

package delegated

import (
	"strconv"
	"strings"
	"time"

	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// javaDateLayout is java.util.Date#toString.
const javaDateLayout = "Mon Jan 02 15:04:05 MST 2006"

// =============================================================================
// Responses
// =============================================================================

type certificateRecord struct {
	Alias            string `json:"alias"`
	Subject          string `json:"subject"`
	Issuer           string `json:"issuer"`
	Serial           string `json:"serial"`
	NotBefore        string `json:"notBefore"`
	NotAfter         string `json:"notAfter"`
	HasPrivateKey    bool   `json:"hasPrivateKey"`
	DigitalSignature bool   `json:"digitalSignature"`
	NonRepudiation   bool   `json:"nonRepudiation"`
}

type listResponse struct {
	Certificates []certificateRecord `json:"certificates"`
	Count        int                 `json:"count"`
}

type signResponse struct {
	Success     bool   `json:"success"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	Certificate string `json:"certificate"`
	Signer      string `json:"signer"`
	Error       string `json:"error"`
}

type slotRecord struct {
	Slot      uint `json:"slot"`
	Available bool `json:"available"`
}

type tokensResponse struct {
	Library string       `json:"library"`
	Exists  bool         `json:"exists"`
	Slots   []slotRecord `json:"slots"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// Arguments
// =============================================================================

func listArgs(pin string, slot uint) []string {
	return []string{
		"--list-certs",
		"--pin", pin,
		"--slot", strconv.FormatUint(uint64(slot), 10),
	}
}

func tokensArgs() []string {
	return []string{"--list-tokens"}
}

// signArgs encodes a request. imagePath is passed only when non-empty and
// the page is converted to the helper's 1-based numbering.
func signArgs(req *types.SignRequest, imagePath string) []string {
	cfg := req.Config
	app := cfg.Appearance
	args := []string{
		"--sign",
		"--input", req.InputPath,
		"--output", req.OutputPath,
		"--pin", req.PIN,
		"--slot", strconv.FormatUint(uint64(req.Selector.Slot), 10),
	}
	if req.Selector.Label != "" {
		args = append(args, "--alias", req.Selector.Label)
	}
	if app.Reason != "" {
		args = append(args, "--reason", app.Reason)
	}
	if app.Location != "" {
		args = append(args, "--location", app.Location)
	}
	if app.Contact != "" {
		args = append(args, "--contact", app.Contact)
	}
	if app.Name != "" {
		args = append(args, "--name", app.Name)
	}
	if imagePath != "" {
		args = append(args, "--image", imagePath)
	}
	if cfg.Visible {
		r := cfg.Position.Normalize()
		args = append(args,
			"--visible",
			"--page", strconv.Itoa(cfg.Page+1),
			"--x", formatFloat(r.X1),
			"--y", formatFloat(r.Y1),
			"--width", formatFloat(r.Width()),
			"--height", formatFloat(r.Height()),
		)
	}
	return args
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// =============================================================================
// Mapping
// =============================================================================

// toCertificateInfo maps a helper record. Subjects and issuers arrive as
// RFC 2253 names; the common name is extracted when present.
func (r certificateRecord) toCertificateInfo() types.CertificateInfo {
	info := types.CertificateInfo{
		Label:            r.Alias,
		SubjectCN:        commonName(r.Subject),
		IssuerCN:         commonName(r.Issuer),
		Serial:           r.Serial,
		NotBefore:        parseJavaDate(r.NotBefore),
		NotAfter:         parseJavaDate(r.NotAfter),
		HasPrivateKey:    r.HasPrivateKey,
		DigitalSignature: r.DigitalSignature,
		NonRepudiation:   r.NonRepudiation,
	}
	// Same rule as the native registry: the private key alone decides.
	info.CanSign = info.HasPrivateKey
	return info
}

func parseJavaDate(s string) time.Time {
	t, err := time.Parse(javaDateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// commonName returns the CN attribute of an RFC 2253 name, or the name
// itself when it has none.
func commonName(dn string) string {
	for _, rdn := range splitRDNs(dn) {
		k, v, ok := strings.Cut(rdn, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "CN") {
			return unescapeRDN(strings.TrimSpace(v))
		}
	}
	return dn
}

func splitRDNs(dn string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, c := range dn {
		switch {
		case escaped:
			cur.WriteRune('\\')
			cur.WriteRune(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == ',' || c == '+':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
	}
	return append(parts, cur.String())
}

func unescapeRDN(s string) string {
	var b strings.Builder
	escaped := false
	for _, c := range s {
		if !escaped && c == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(c)
	}
	return b.String()
}
