package validation

import (
	"bytes"
	"io"
	"mime/multipart"

	"github.com/disintegration/imaging"
)

type FileType string

const (
	FileTypePNG  FileType = "png"
	FileTypeJPEG FileType = "jpeg"
)

// Magic-byte signatures for the image formats the watermarking tools accept.
var magicBytes = map[FileType][]byte{
	FileTypePNG:  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	FileTypeJPEG: {0xFF, 0xD8, 0xFF},
}

// DetectFileType sniffs the upload's leading bytes and rewinds the reader.
func DetectFileType(file multipart.File) (FileType, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	if _, err := file.Seek(0, 0); err != nil {
		return "", err
	}

	for fileType, signature := range magicBytes {
		if bytes.HasPrefix(buffer[:n], signature) {
			return fileType, nil
		}
	}

	return "", ErrInvalidFileType
}

// DecodeDimensions fully decodes the upload to prove it is a real image and
// returns its pixel dimensions. The reader is rewound afterwards.
func DecodeDimensions(file multipart.File) (width, height int, err error) {
	img, err := imaging.Decode(file)
	if err != nil {
		return 0, 0, ErrUndecodableImage
	}

	if _, err := file.Seek(0, 0); err != nil {
		return 0, 0, err
	}

	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy(), nil
}
