package upi

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSizePixels = 256

// QRDataURL encodes the payment link as a PNG QR code and wraps it in a
// data URL, ready to drop into an <img> tag. Generated fresh on every call;
// callers may cache it since the underlying link is immutable.
func QRDataURL(link string) (string, error) {
	png, err := qrcode.Encode(link, qrcode.Medium, qrSizePixels)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
