package render

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/pgx-lims-server/internal/domain"
)

// Page geometry, A4 at 150dpi.
const (
	pageWidth  = 1240
	pageHeight = 1754

	marginX = 90
	marginY = 80

	sigBoxWidth  = 420
	sigBoxHeight = 140
)

// Renderer draws the report document as a single PNG page. Fonts come
// from the configured TTF paths, falling back to the embedded Go fonts
// when no paths are set.
type Renderer struct {
	title   font.Face
	heading font.Face
	body    font.Face
	small   font.Face
}

// NewRenderer creates a renderer with the configured fonts.
func NewRenderer(config domain.RenderConfig) (*Renderer, error) {
	regular, err := loadFont(config.FontPath, goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("loading regular font: %w", err)
	}
	bold, err := loadFont(config.BoldFontPath, gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("loading bold font: %w", err)
	}

	return &Renderer{
		title:   newFace(bold, 34),
		heading: newFace(bold, 22),
		body:    newFace(regular, 20),
		small:   newFace(regular, 16),
	}, nil
}

// Render produces the full report page. Every call regenerates the
// document from the payload; nothing is patched in place.
func (r *Renderer) Render(payload *domain.ReportPayload) ([]byte, error) {
	dc := gg.NewContext(pageWidth, pageHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)

	y := float64(marginY)

	dc.SetFontFace(r.title)
	dc.DrawStringAnchored("Pharmacogenomic Test Report", pageWidth/2, y, 0.5, 0.5)
	y += 60

	dc.SetLineWidth(2)
	dc.DrawLine(marginX, y, pageWidth-marginX, y)
	dc.Stroke()
	y += 40

	y = r.drawPatientBlock(dc, payload, y)
	y = r.drawAlleleTable(dc, payload, y)
	y = r.drawResultBlock(dc, payload, y)
	r.drawRecommendation(dc, payload, y)

	r.drawSignatures(dc, payload)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encoding report page: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) drawPatientBlock(dc *gg.Context, payload *domain.ReportPayload, y float64) float64 {
	left := [][2]string{
		{"Patient", payload.PatientName},
		{"Hospital ID", payload.HospitalID},
		{"Age / Gender", fmt.Sprintf("%d / %s", payload.Age, payload.Gender)},
	}
	right := [][2]string{
		{"Assay", payload.AssayType},
		{"Specimen", payload.SpecimenType},
		{"Requested", payload.RequestedAt.Format("2006-01-02 15:04")},
	}

	rowH := 34.0
	for i := range left {
		r.drawLabelled(dc, left[i][0], left[i][1], marginX, y+float64(i)*rowH)
		r.drawLabelled(dc, right[i][0], right[i][1], pageWidth/2+20, y+float64(i)*rowH)
	}
	return y + float64(len(left))*rowH + 30
}

func (r *Renderer) drawAlleleTable(dc *gg.Context, payload *domain.ReportPayload, y float64) float64 {
	if len(payload.AlleleRows) == 0 {
		return y
	}

	dc.SetFontFace(r.heading)
	dc.DrawString("Observed Alleles", marginX, y)
	y += 36

	tableWidth := float64(pageWidth - 2*marginX)
	colW := tableWidth / 2
	rowH := 38.0

	dc.SetFontFace(r.body)
	dc.SetLineWidth(1)
	for i, row := range payload.AlleleRows {
		top := y + float64(i)*rowH
		dc.DrawRectangle(marginX, top, colW, rowH)
		dc.DrawRectangle(marginX+colW, top, colW, rowH)
		dc.Stroke()
		dc.DrawStringAnchored(row[0], marginX+14, top+rowH/2, 0, 0.5)
		dc.DrawStringAnchored(row[1], marginX+colW+14, top+rowH/2, 0, 0.5)
	}

	return y + float64(len(payload.AlleleRows))*rowH + 40
}

func (r *Renderer) drawResultBlock(dc *gg.Context, payload *domain.ReportPayload, y float64) float64 {
	dc.SetFontFace(r.heading)
	dc.DrawString("Result", marginX, y)
	y += 36

	rows := [][2]string{
		{"Genotype", payload.Genotype},
		{"Phenotype", payload.Phenotype},
		{"Activity Score", fmt.Sprintf("%.2f", payload.ActivityScore)},
	}
	rowH := 34.0
	for i, row := range rows {
		r.drawLabelled(dc, row[0], row[1], marginX, y+float64(i)*rowH)
	}
	y += float64(len(rows))*rowH + 10

	if payload.GenotypeSummary != "" {
		dc.SetFontFace(r.body)
		width := float64(pageWidth - 2*marginX)
		dc.DrawStringWrapped(payload.GenotypeSummary, marginX, y, 0, 0, width, 1.4, gg.AlignLeft)
		_, h := dc.MeasureMultilineString(wrapText(dc, payload.GenotypeSummary, width), 1.4)
		y += h + 30
	}

	return y
}

func (r *Renderer) drawRecommendation(dc *gg.Context, payload *domain.ReportPayload, y float64) {
	if payload.Recommendation == "" {
		return
	}

	dc.SetFontFace(r.heading)
	dc.DrawString("Therapeutic Recommendation", marginX, y)
	y += 36

	dc.SetFontFace(r.body)
	width := float64(pageWidth - 2*marginX)
	dc.DrawStringWrapped(payload.Recommendation, marginX, y, 0, 0, width, 1.4, gg.AlignLeft)
}

// drawSignatures lays out the two confirmation slots at the bottom of
// the page. The first confirmer is always the left slot. A slot with a
// name but no image keeps its line and caption, matching a wet-ink form
// awaiting a signature.
func (r *Renderer) drawSignatures(dc *gg.Context, payload *domain.ReportPayload) {
	top := float64(pageHeight - marginY - sigBoxHeight)
	leftX := float64(marginX)
	rightX := float64(pageWidth - marginX - sigBoxWidth)

	r.drawSignatureSlot(dc, leftX, top, "Confirmed by", payload.Signature1Name, payload.Signature1Date, payload.Signature1)
	r.drawSignatureSlot(dc, rightX, top, "Confirmed by", payload.Signature2Name, payload.Signature2Date, payload.Signature2)
}

func (r *Renderer) drawSignatureSlot(dc *gg.Context, x, y float64, caption, name string, date *time.Time, img []byte) {
	lineY := y + sigBoxHeight - 44

	if len(img) > 0 {
		if decoded, _, err := image.Decode(bytes.NewReader(img)); err == nil {
			dc.DrawImage(fitImage(decoded, sigBoxWidth-20, int(lineY-y)-8), int(x)+10, int(y)+4)
		}
	}

	dc.SetLineWidth(1)
	dc.DrawLine(x, lineY, x+sigBoxWidth, lineY)
	dc.Stroke()

	dc.SetFontFace(r.small)
	label := caption
	if name != "" {
		label = fmt.Sprintf("%s: %s", caption, name)
	}
	dc.DrawString(label, x, lineY+24)
	if date != nil {
		dc.DrawString(date.Format("2006-01-02 15:04"), x, lineY+44)
	}
}

func (r *Renderer) drawLabelled(dc *gg.Context, label, value string, x, y float64) {
	dc.SetFontFace(r.small)
	dc.DrawString(label, x, y)
	dc.SetFontFace(r.body)
	dc.DrawString(value, x+170, y)
}

// fitImage scales an image down to fit the box, preserving aspect.
func fitImage(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return src
	}

	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}
	dw, dh := int(float64(w)*scale), int(float64(h)*scale)

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// wrapText reproduces gg's wrapping so measured height matches what
// DrawStringWrapped painted.
func wrapText(dc *gg.Context, s string, width float64) string {
	lines := dc.WordWrap(s, width)
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

func loadFont(path string, fallback []byte) (*truetype.Font, error) {
	data := fallback
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading font %s: %w", path, err)
		}
		data = b
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}
	return f, nil
}

func newFace(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
