package service

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	QRCanvasSize = 250
	qrKeyPrefix  = "qr_codes/"
)

// QRKey is the artifact file name for a table's QR image. It must stay a pure
// function of the restaurant and table number.
func QRKey(restaurantID, tableNum int) string {
	return fmt.Sprintf("qr_code_r%d_t%d.png", restaurantID, tableNum)
}

// QRArtifactKey is QRKey placed under the QR image prefix.
func QRArtifactKey(restaurantID, tableNum int) string {
	return qrKeyPrefix + QRKey(restaurantID, tableNum)
}

// MenuURL is the link encoded into printed QR codes. Changing the format
// invalidates every code already on a table.
func MenuURL(baseURL string, restaurantID, tableNum int) string {
	return fmt.Sprintf("%s/menu/?restaurant=%d&table=%d", strings.TrimRight(baseURL, "/"), restaurantID, tableNum)
}

type DefaultQRCodec struct{}

func (DefaultQRCodec) Encode(text string) (image.Image, error) {
	q, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	return q.Image(QRCanvasSize), nil
}

// renderQR centres the symbol on a white square canvas and PNG-encodes it.
func renderQR(symbol image.Image, size int) ([]byte, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	b := symbol.Bounds()
	offset := image.Pt((size-b.Dx())/2, (size-b.Dy())/2)
	draw.Draw(canvas, b.Sub(b.Min).Add(offset), symbol, b.Min, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
