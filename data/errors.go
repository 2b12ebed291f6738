package data

import "errors"

// Standard errors shared by the disk and its backends.
var (
	// Metadata errors
	ErrFormat = errors.New("vdisk: unknown metadata format")

	// File operation errors
	ErrExist        = errors.New("vdisk: file already exists")
	ErrNotExist     = errors.New("vdisk: file does not exist")
	ErrIsDirectory  = errors.New("vdisk: is a directory")
	ErrNotDirectory = errors.New("vdisk: not a directory")
	ErrNotEmpty     = errors.New("vdisk: directory not empty")
	ErrReadOnly     = errors.New("vdisk: file is read-only")

	// Recursion guard errors
	ErrTooDeep = errors.New("vdisk: directory tree exceeds recursion limit")
)
