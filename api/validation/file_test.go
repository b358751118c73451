package validation

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"testing"
)

// memFile adapts an in-memory buffer to multipart.File.
type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

func newMemFile(data []byte) memFile {
	return memFile{bytes.NewReader(data)}
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDetectFileType_PNG(t *testing.T) {
	file := newMemFile(encodePNG(t, 2, 2))

	fileType, err := DetectFileType(file)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if fileType != FileTypePNG {
		t.Errorf("Expected png, got %s", fileType)
	}
}

func TestDetectFileType_JPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil); err != nil {
		t.Fatalf("Failed to encode jpeg: %v", err)
	}

	fileType, err := DetectFileType(newMemFile(buf.Bytes()))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if fileType != FileTypeJPEG {
		t.Errorf("Expected jpeg, got %s", fileType)
	}
}

func TestDetectFileType_RejectsOtherFormats(t *testing.T) {
	cases := map[string][]byte{
		"text": []byte("definitely not an image"),
		"gif":  {0x47, 0x49, 0x46, 0x38, 0x39, 0x61},
		"pdf":  {0x25, 0x50, 0x44, 0x46},
	}
	for name, data := range cases {
		if _, err := DetectFileType(newMemFile(data)); !errors.Is(err, ErrInvalidFileType) {
			t.Errorf("%s: expected ErrInvalidFileType, got %v", name, err)
		}
	}
}

func TestDetectFileType_RewindsReader(t *testing.T) {
	data := encodePNG(t, 2, 2)
	file := newMemFile(data)

	if _, err := DetectFileType(file); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	rest, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if !bytes.Equal(rest, data) {
		t.Error("Reader was not rewound after sniffing")
	}
}

func TestDecodeDimensions(t *testing.T) {
	file := newMemFile(encodePNG(t, 12, 7))

	width, height, err := DecodeDimensions(file)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if width != 12 || height != 7 {
		t.Errorf("Expected 12x7, got %dx%d", width, height)
	}
}

func TestDecodeDimensions_CorruptImage(t *testing.T) {
	// Valid PNG magic bytes, garbage after.
	data := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("garbage")...)

	if _, _, err := DecodeDimensions(newMemFile(data)); !errors.Is(err, ErrUndecodableImage) {
		t.Errorf("Expected ErrUndecodableImage, got %v", err)
	}
}
