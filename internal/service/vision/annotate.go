package vision

import (
	"fmt"
	"image"
	"image/color"

	"agroscan/internal/model"

	"gocv.io/x/gocv"
)

// Annotator draws the detection box and label on a JPEG frame.
type Annotator struct {
	Quality int
}

// NewAnnotator creates an annotator that re-encodes at the given JPEG quality.
func NewAnnotator(quality int) *Annotator {
	return &Annotator{Quality: quality}
}

// Annotate returns the frame with the bounding box drawn. Frames without a box
// are returned unchanged.
func (a *Annotator) Annotate(frame []byte, d *model.Detection) ([]byte, error) {
	if d == nil || d.BBox == nil {
		return frame, nil
	}

	mat, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}

	boxColor := severityColor(d.Severity)
	rect := image.Rect(int(d.BBox.X1), int(d.BBox.Y1), int(d.BBox.X2), int(d.BBox.Y2))
	if err := gocv.Rectangle(&mat, rect, boxColor, 3); err != nil {
		return nil, fmt.Errorf("failed to draw rectangle: %w", err)
	}

	label := fmt.Sprintf("%s (%.1f%%)", d.DisplayName(), d.Confidence*100)
	y := rect.Min.Y - 8
	if y < 16 {
		y = rect.Min.Y + 20
	}
	if err := gocv.PutText(&mat, label, image.Pt(rect.Min.X, y), gocv.FontHersheySimplex, 0.7, boxColor, 2); err != nil {
		return nil, fmt.Errorf("failed to draw text: %w", err)
	}

	quality := a.Quality
	if quality <= 0 {
		quality = 95
	}
	return encodeJPEG(mat, quality)
}

func severityColor(s model.Severity) color.RGBA {
	switch s {
	case model.SeverityHigh:
		return color.RGBA{R: 220, G: 38, B: 38}
	case model.SeverityMedium:
		return color.RGBA{R: 234, G: 88, B: 12}
	case model.SeverityLow:
		return color.RGBA{R: 22, G: 163, B: 74}
	default:
		return color.RGBA{R: 37, G: 99, B: 235}
	}
}
