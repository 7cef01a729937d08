package scenario

import (
	"errors"
	"fmt"
)

// ErrMalformedUpload is returned when an upload body cannot be parsed at all.
var ErrMalformedUpload = errors.New("malformed upload")

// ValidationError reports a record that cannot become a scenario.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// UnsupportedFileTypeError rejects an upload before any parsing happens.
type UnsupportedFileTypeError struct {
	ContentType string
	FileName    string
}

func (e *UnsupportedFileTypeError) Error() string {
	switch {
	case e.ContentType != "":
		return fmt.Sprintf("unsupported file type %q (expected CSV or JSON)", e.ContentType)
	case e.FileName != "":
		return fmt.Sprintf("unsupported file %q (expected .csv or .json)", e.FileName)
	default:
		return "unsupported file type (expected CSV or JSON)"
	}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUnsupportedFileType reports whether err is an *UnsupportedFileTypeError.
func IsUnsupportedFileType(err error) bool {
	var ue *UnsupportedFileTypeError
	return errors.As(err, &ue)
}
