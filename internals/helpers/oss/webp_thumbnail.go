package helper

import (
	"bytes"
	"fmt"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

/* =======================================================================
   Thumbnail WebP
   decode (jpeg/png/gif/webp) → fit ke kotak size×size → encode webp lossy
======================================================================= */

const thumbnailQuality = 75

// MakeWebPThumbnail mengembalikan thumbnail webp; gambar yang sudah lebih
// kecil dari size tidak diperbesar.
func MakeWebPThumbnail(data []byte, size int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	if size <= 0 {
		size = 320
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("format tidak didukung: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > size || b.Dy() > size {
		img = imaging.Fit(img, size, size, imaging.Lanczos)
	}

	buf := new(bytes.Buffer)
	if err := webp.Encode(buf, img, &webp.Options{Lossless: false, Quality: thumbnailQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
