package archive

import "errors"

var (
	ErrUnsafePath     = errors.New("archive entry escapes destination")
	ErrMemberNotFound = errors.New("archive member not found")
	ErrUnknownFormat  = errors.New("unknown archive format")
)
