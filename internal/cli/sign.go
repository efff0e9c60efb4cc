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
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pdfsign/pkg/document"
	"github.com/jeremyhahn/go-pdfsign/pkg/geometry"
	"github.com/jeremyhahn/go-pdfsign/pkg/signature"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// signedSuffix is appended to the input stem to name the signed copy.
const signedSuffix = "_signe.pdf"

// DefaultOutputPath returns the path of the signed copy of input.
func DefaultOutputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + signedSuffix
}

func newSignCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign <input.pdf> [output.pdf]",
		Short: "Sign a PDF document",
		Long: `Sign a PDF document with the signing certificate of a token.

The signed copy is written next to the input as <name>_signe.pdf unless an
output path is given. The stamp is placed either with --rect in document
space (points, origin bottom-left) or with --view-rect in view space
(pixels at --zoom, origin top-left), in which case the page rotation is
taken into account.`,
		Example: `  pdfsign sign contract.pdf --pin-stdin --rect 50,50,250,100
  pdfsign sign contract.pdf signed.pdf --page 2 --view-rect 100,600,400,700 --zoom 1.5
  pdfsign sign contract.pdf --invisible --label "Signature"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSign(cmd, args)
		},
	}
	addPINFlags(cmd)

	f := cmd.Flags()
	f.String("label", "", "certificate label")
	f.String("key-id", "", "certificate key identifier (hex)")
	f.Int("page", 1, "page number, starting at 1")
	f.String("rect", "", "stamp rectangle in document space: x1,y1,x2,y2")
	f.String("view-rect", "", "stamp rectangle in view space: left,top,right,bottom")
	f.Float64("zoom", 1, "zoom factor of --view-rect")
	f.Int("rotation", 0, "page rotation for --view-rect (default: the page's /Rotate)")
	f.String("field", "", "signature field name (default: next free SignatureN)")
	f.Bool("invisible", false, "add an invisible signature")
	f.String("conformance", "", "conformance level (basic, timestamp, ltv)")

	f.String("kind", "", "stamp content (text, image, text+image)")
	f.String("name", "", "signer name shown on the stamp")
	f.String("reason", "", "reason for signing")
	f.String("location", "", "signing location")
	f.String("contact", "", "signer contact information")
	f.String("image", "", "stamp image (PNG or JPEG)")
	f.Int("font-size", 0, "stamp font size in points")
	f.Bool("no-date", false, "omit the signing date from the stamp")
	f.Bool("save-appearance", false, "remember the stamp appearance in the settings")
	return cmd
}

func (a *app) runSign(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := DefaultOutputPath(input)
	if len(args) == 2 {
		output = args[1]
	}

	cfg, err := a.signatureConfig(cmd, input)
	if err != nil {
		return err
	}
	sel, err := a.selector(cmd)
	if err != nil {
		return err
	}

	if save, _ := cmd.Flags().GetBool("save-appearance"); save {
		if a.settings == nil {
			return fmt.Errorf("settings are disabled")
		}
		if err := a.settings.SetAppearance(cfg.Appearance); err != nil {
			return fmt.Errorf("failed to save appearance: %w", err)
		}
	}

	o, err := a.orchestrator()
	if err != nil {
		return err
	}
	value, err := a.acquirePIN(cmd.Context(), cmd, o, sel.Slot)
	if err != nil {
		return err
	}
	defer value.Clear()
	code, err := value.String()
	if err != nil {
		return err
	}

	job := signature.Job{
		Input:    input,
		Output:   output,
		PIN:      code,
		Config:   cfg,
		Selector: sel,
	}
	for event := range o.SignAsync(cmd.Context(), job) {
		switch event.Type {
		case signature.EventStarted, signature.EventProgress:
			a.logger.Info(event.Message)
		case signature.EventFailed:
			return event.Err
		case signature.EventCompleted:
			return a.printer(cmd).PrintResult(event.Result)
		}
	}
	return fmt.Errorf("%w: signing ended without a result", types.ErrSigningFailed)
}

// signatureConfig builds the signature configuration from the flags, the
// saved appearance and the configured conformance level.
func (a *app) signatureConfig(cmd *cobra.Command, input string) (*types.SignatureConfig, error) {
	f := cmd.Flags()
	cfg := types.DefaultSignatureConfig()
	cfg.FieldName, _ = f.GetString("field")
	cfg.Conformance = types.ConformanceLevel(a.cfg.Signing.Conformance)
	if f.Changed("conformance") {
		c, _ := f.GetString("conformance")
		cfg.Conformance = types.ConformanceLevel(c)
	}

	page, _ := f.GetInt("page")
	if page < 1 {
		return nil, fmt.Errorf("%w: page numbers start at 1", types.ErrInvalidRequest)
	}
	cfg.Page = page - 1

	invisible, _ := f.GetBool("invisible")
	cfg.Visible = !invisible
	if cfg.Visible {
		rect, err := a.placement(cmd, input, cfg.Page)
		if err != nil {
			return nil, err
		}
		if rect != nil {
			cfg.Position = *rect
		}
	}

	app, err := a.appearance(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Appearance = app
	return cfg, nil
}

// placement returns the stamp rectangle from --rect or --view-rect, or nil
// when neither is set.
func (a *app) placement(cmd *cobra.Command, input string, page int) (*geometry.PDFRect, error) {
	f := cmd.Flags()
	if s, _ := f.GetString("rect"); s != "" {
		r, err := parseRect(s)
		if err != nil {
			return nil, err
		}
		return &r, nil
	}
	s, _ := f.GetString("view-rect")
	if s == "" {
		return nil, nil
	}
	view, err := parseViewRect(s)
	if err != nil {
		return nil, err
	}
	info, err := pageInfo(input, page)
	if err != nil {
		return nil, err
	}
	if f.Changed("rotation") {
		info.Rotation, _ = f.GetInt("rotation")
	}
	zoom, _ := f.GetFloat64("zoom")
	r, err := toDocument(view, info, zoom)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("placement converted", "view", s, "rect", r.String(), "rotation", info.Rotation)
	return &r, nil
}

// appearance starts from the saved appearance and applies the flags.
func (a *app) appearance(cmd *cobra.Command) (types.SignatureAppearance, error) {
	app := types.DefaultAppearance()
	if a.settings != nil {
		if saved, ok := a.settings.Appearance(); ok {
			app = saved
		}
	}

	f := cmd.Flags()
	for name, dst := range map[string]*string{
		"name":     &app.Name,
		"reason":   &app.Reason,
		"location": &app.Location,
		"contact":  &app.Contact,
	} {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	if f.Changed("image") {
		app.ImagePath, _ = f.GetString("image")
		if app.ImagePath != "" && !f.Changed("kind") {
			app.Kind = types.AppearanceTextAndImage
		}
	}
	if f.Changed("kind") {
		kind, _ := f.GetString("kind")
		app.Kind = types.AppearanceKind(kind)
		if !app.Kind.IsValid() {
			return app, fmt.Errorf("%w: unknown stamp kind %q", types.ErrInvalidRequest, kind)
		}
	}
	if f.Changed("font-size") {
		app.FontSize, _ = f.GetInt("font-size")
	}
	if f.Changed("no-date") {
		noDate, _ := f.GetBool("no-date")
		app.IncludeDate = !noDate
	}
	return app, nil
}

// selector builds the certificate selector from --slot, --label and --key-id.
func (a *app) selector(cmd *cobra.Command) (types.CertificateSelector, error) {
	sel := types.CertificateSelector{Slot: a.slot(cmd)}
	sel.Label, _ = cmd.Flags().GetString("label")
	if s, _ := cmd.Flags().GetString("key-id"); s != "" {
		id, err := hex.DecodeString(s)
		if err != nil {
			return sel, fmt.Errorf("%w: key id must be hex: %v", types.ErrInvalidRequest, err)
		}
		sel.KeyID = id
	}
	return sel, nil
}

func newPlaceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "place <left,top,right,bottom>",
		Short: "Convert a view rectangle to document coordinates",
		Long: `Convert a rectangle drawn on a rendered page (pixels at --zoom, origin
top-left) into the document rectangle accepted by "sign --rect". The page
size and rotation are read from --input, or taken from --width, --height
and --rotation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := parseViewRect(args[0])
			if err != nil {
				return err
			}
			f := cmd.Flags()
			page, _ := f.GetInt("page")
			if page < 1 {
				return fmt.Errorf("%w: page numbers start at 1", types.ErrInvalidRequest)
			}

			info := document.PageInfo{Index: page - 1}
			if input, _ := f.GetString("input"); input != "" {
				if info, err = pageInfo(input, page-1); err != nil {
					return err
				}
			} else {
				info.Width, _ = f.GetFloat64("width")
				info.Height, _ = f.GetFloat64("height")
			}
			if f.Changed("rotation") {
				info.Rotation, _ = f.GetInt("rotation")
			}

			zoom, _ := f.GetFloat64("zoom")
			rect, err := toDocument(view, info, zoom)
			if err != nil {
				return err
			}
			return a.printer(cmd).PrintPlacement(info, rect)
		},
	}
	f := cmd.Flags()
	f.String("input", "", "PDF document to read the page size from")
	f.Int("page", 1, "page number, starting at 1")
	f.Float64("width", 612, "page width in points")
	f.Float64("height", 792, "page height in points")
	f.Int("rotation", 0, "page rotation in degrees")
	f.Float64("zoom", 1, "zoom factor the page is rendered at")
	return cmd
}

// toDocument converts a view rectangle on page into document space.
func toDocument(view geometry.ViewRect, page document.PageInfo, zoom float64) (geometry.PDFRect, error) {
	r, err := geometry.ViewToDocument(view, page.Height, zoom)
	if err != nil {
		return geometry.PDFRect{}, fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
	}
	r, err = geometry.AdjustForRotation(r, page.Width, page.Height, page.Rotation)
	if err != nil {
		return geometry.PDFRect{}, fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
	}
	return r.Normalize(), nil
}

// pageInfo reads the size and rotation of a page of the PDF at path.
func pageInfo(path string, page int) (document.PageInfo, error) {
	doc, err := document.Open(path)
	if err != nil {
		return document.PageInfo{}, err
	}
	defer func() { _ = doc.Close() }()

	info, err := doc.PageDimensions(page)
	if err != nil {
		return document.PageInfo{}, fmt.Errorf("%w: %w", types.ErrInvalidRequest, err)
	}
	return info, nil
}

func parseRect(s string) (geometry.PDFRect, error) {
	v, err := parseFloats(s, 4)
	if err != nil {
		return geometry.PDFRect{}, err
	}
	return geometry.PDFRect{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}.Normalize(), nil
}

func parseViewRect(s string) (geometry.ViewRect, error) {
	v, err := parseFloats(s, 4)
	if err != nil {
		return geometry.ViewRect{}, err
	}
	return geometry.ViewRect{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("%w: expected %d comma separated numbers, got %q", types.ErrInvalidRequest, n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q", types.ErrInvalidRequest, p)
		}
		out[i] = v
	}
	return out, nil
}
