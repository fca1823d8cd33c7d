// Package qr renders session descriptors as scannable codes.
package qr

import (
	"fmt"
	"os"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultPNGSize размер картинки в пикселях
const DefaultPNGSize = 256

// build пробует уровень коррекции Medium, для длинных данных откатывается на Low
func build(payload string) (*qrcode.QRCode, error) {
	if payload == "" {
		return nil, fmt.Errorf("empty payload")
	}
	code, err := qrcode.New(payload, qrcode.Medium)
	if err == nil {
		return code, nil
	}
	code, lowErr := qrcode.New(payload, qrcode.Low)
	if lowErr != nil {
		return nil, fmt.Errorf("payload does not fit into a QR code: %w", err)
	}
	return code, nil
}

// Terminal renders payload with half-block characters for a text terminal.
func Terminal(payload string) (string, error) {
	code, err := build(payload)
	if err != nil {
		return "", err
	}
	return code.ToSmallString(false), nil
}

// PNG renders payload as a PNG image of size x size pixels.
func PNG(payload string, size int) ([]byte, error) {
	code, err := build(payload)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultPNGSize
	}
	return code.PNG(size)
}

// WritePNG сохраняет код в файл
func WritePNG(payload, path string, size int) error {
	data, err := PNG(payload, size)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write qr image: %w", err)
	}
	return nil
}
