package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"trackcast/detect"
)

// boxLabel records the rendering details of a bounding box text label
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// DetectionBoxes renders the bounding boxes around the objects detected.
// Tracked objects are colored and labelled by track id, untracked
// detections are marked provisional
func DetectionBoxes(img *gocv.Mat, detections []detect.Detection,
	font Font, lineThickness int) {

	// keep a record of all box labels for later rendering
	boxLabels := make([]boxLabel, 0, len(detections))

	// draw detection boxes
	for i, det := range detections {

		// color tracked objects by track id so a track keeps its color
		// across frames
		colorID := i
		if det.TrackID != nil {
			colorID = *det.TrackID
		}
		useClr := TrackColor(colorID)

		// draw rectangle around detected object
		rect := image.Rect(det.Box.X1, det.Box.Y1, det.Box.X2, det.Box.Y2)
		gocv.Rectangle(img, rect, useClr, lineThickness)

		// create text for label
		var text string

		if det.TrackID != nil {
			text = fmt.Sprintf("%s ID:%d %.2f", det.Class, *det.TrackID,
				det.Confidence)
		} else {
			text = fmt.Sprintf("%s %.2f [P]", det.Class, det.Confidence)
		}

		textSize := gocv.GetTextSize(text, font.Face, font.Scale,
			font.Thickness)

		// place text label above the top left box corner
		labelPosition := image.Pt(det.Box.X1+font.LeftPad,
			det.Box.Y1-font.BottomPad)

		// create box for placing text on
		bRect := image.Rect(det.Box.X1,
			det.Box.Y1-textSize.Y-font.TopPad-font.BottomPad,
			det.Box.X1+textSize.X+font.LeftPad+font.RightPad,
			det.Box.Y1)

		// record label rendering details
		boxLabels = append(boxLabels, boxLabel{
			rect:    bRect,
			clr:     useClr,
			text:    text,
			textPos: labelPosition,
		})
	}

	// draw all precalculated box labels so they are the top most layer
	// on the image and don't get overlapped by neighbouring boxes
	for _, box := range boxLabels {
		// draw box text gets written on
		gocv.Rectangle(img, box.rect, box.clr, -1)

		// draw the label over box
		gocv.PutTextWithParams(img, box.text, box.textPos,
			font.Face, font.Scale, font.Color, font.Thickness,
			font.LineType, false)
	}
}
