// Package imaging provides the content-hash and byte-codec utilities used to
// key prescriptions by image content. Images are always re-encoded as PNG
// before hashing so that the digest depends on pixel content via one
// canonical byte representation, regardless of the upload format.
package imaging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"

	// Register decoders for the upload formats accepted by the UI.
	_ "image/gif"
	_ "image/jpeg"
)

// Encode renders img into its canonical PNG byte representation.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses stored or uploaded image bytes back into an image. Malformed
// bytes surface as an error; nothing is silently swallowed.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode image: %w", err)
	}
	return img, nil
}

// Hash returns the SHA-256 hex digest of the canonical PNG encoding of img.
// The digest is deterministic for identical pixel content and serves as the
// deduplication key for prescriptions.
func Hash(img image.Image) (string, error) {
	data, err := Encode(img)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes returns the SHA-256 hex digest of data. Callers that already hold
// the canonical PNG bytes can use this to avoid re-encoding.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
