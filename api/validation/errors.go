package validation

import "errors"

var (
	ErrInvalidFileType  = errors.New("invalid file type")
	ErrFileTooLarge     = errors.New("file size exceeds limit")
	ErrUndecodableImage = errors.New("file is not a decodable image")
)
