package skeleton

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoAnnotation is returned when a .k.zip archive has no
// annotation.xml entry.
var ErrNoAnnotation = errors.New("archive contains no annotation.xml")

const annotationEntry = "annotation.xml"

// ExtractAnnotation returns the annotation document carried by an
// upload. Names ending in .zip (so also .k.zip) are opened as archives
// and must hold an annotation.xml entry; any other upload is taken as
// the document itself.
func ExtractAnnotation(upload []byte, filename string) ([]byte, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".zip") {
		return upload, nil
	}
	r, err := zip.NewReader(bytes.NewReader(upload), int64(len(upload)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	for _, f := range r.File {
		if f.Name != annotationEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", annotationEntry, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", annotationEntry, err)
		}
		return data, nil
	}
	return nil, ErrNoAnnotation
}
