package validation

import (
	"fmt"
	"io"
	"mime/multipart"

	apperrors "github.com/anime-shed/image-classifier-go/internal/errors"
)

// UploadInfo describes an uploaded file after it has been read.
type UploadInfo struct {
	Filename    string
	Size        int64
	ContentType string // as declared by the client
}

// UploadValidator reads multipart uploads within a size limit
type UploadValidator struct {
	maxBytes int64
}

// NewUploadValidator creates a validator accepting files up to maxBytes
func NewUploadValidator(maxBytes int64) *UploadValidator {
	return &UploadValidator{maxBytes: maxBytes}
}

// ReadUpload returns the full content of the uploaded file. The declared
// content type is not trusted; the decoder sniffs the bytes itself.
func (v *UploadValidator) ReadUpload(fh *multipart.FileHeader) ([]byte, UploadInfo, error) {
	info := UploadInfo{
		Filename:    fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
	}
	if v.maxBytes > 0 && fh.Size > v.maxBytes {
		return nil, info, apperrors.NewInvalidInputError(
			fmt.Sprintf("Image too large: %d bytes (limit %d)", fh.Size, v.maxBytes), nil)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, info, apperrors.NewInternalError("failed to open uploaded file", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, info, apperrors.NewInternalError("failed to read uploaded file", err)
	}

	info.Size = int64(len(data))
	return data, info, nil
}
