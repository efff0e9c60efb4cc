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

package appearance

import (
	"github.com/digitorus/pdfsign"
)

// StampImageName is the resource name the stamp image is registered under.
const StampImageName = "SignatureImage"

// Build converts a layout into a pdfsign appearance: a light background, a
// thin border, the fitted image when the layout has one and one text
// element per line drawn over it. The image is registered on doc.
func Build(doc *pdfsign.Document, l *Layout) *pdfsign.Appearance {
	app := pdfsign.NewAppearance(l.Width, l.Height)
	app.Background(250, 250, 250)
	app.Border(0.5, 80, 80, 80)
	if l.Image != nil && doc != nil {
		r := l.ImageRect
		img := doc.AddImage(StampImageName, l.Image.Data)
		app.Image(img).Rect(r.X1, r.Y1, r.Width(), r.Height()).ScaleFit()
	}
	for _, line := range l.Lines {
		app.Text(line.Text).
			Font(nil, l.FontSize).
			SetColor(0, 0, 0).
			Position(line.X, line.Y)
	}
	return app
}
