// Package object holds the value types shared by storage backends.
package object

import "fmt"

// Range is an inclusive byte span [Start, End] of an object.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by the range.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// HeaderValue formats the range for an HTTP/S3 Range request header.
func (r Range) HeaderValue() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Info is the result of a stat call.
type Info struct {
	Size int64
	ETag string
}
