// Package convert resolves the real format of downloaded content and turns it
// into something the archive can hold: a PDF or an untouched Office file.
package convert

import (
	"archive/zip"
	"bytes"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"net/url"
	"path"
	"strings"
)

var (
	pdfMagic = []byte("%PDF")
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

	wordMarker      = []byte("WordDocument")
	wordMarkerUTF16 = utf16LE("WordDocument")
)

var officeZipPrefixes = []struct {
	prefix string
	ext    string
}{
	{"word/", ".docx"},
	{"xl/", ".xlsx"},
	{"ppt/", ".pptx"},
}

var mimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".zip":  "application/zip",
	".csv":  "text/csv; charset=utf-8",
}

// MIMEType maps an extension to its content type.
func MIMEType(ext string) string {
	if mime, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return mime
	}
	return "application/octet-stream"
}

// DetectFormat returns the extension (with dot) that best describes content.
// Signatures win over the filename hint; an empty result means unknown.
func DetectFormat(content []byte, hint string) string {
	switch {
	case bytes.HasPrefix(content, pdfMagic):
		return ".pdf"
	case bytes.HasPrefix(content, zipMagic):
		if ext := probeZip(content); ext != "" {
			return ext
		}
	case bytes.HasPrefix(content, oleMagic):
		if bytes.Contains(content, wordMarker) || bytes.Contains(content, wordMarkerUTF16) {
			return ".doc"
		}
	}

	if _, format, err := image.DecodeConfig(bytes.NewReader(content)); err == nil {
		switch format {
		case "jpeg":
			return ".jpg"
		case "png":
			return ".png"
		}
	}

	return HintExtension(hint)
}

// HintExtension extracts a normalised extension from a filename or URL.
func HintExtension(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}
	if u, err := url.Parse(hint); err == nil && u.Path != "" {
		hint = u.Path
	}
	ext := strings.ToLower(path.Ext(hint))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	return ext
}

func probeZip(content []byte) string {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err == nil {
		for _, file := range reader.File {
			for _, candidate := range officeZipPrefixes {
				if strings.HasPrefix(file.Name, candidate.prefix) {
					return candidate.ext
				}
			}
		}
		return ""
	}
	// Truncated archives still carry local headers with the member names.
	for _, candidate := range officeZipPrefixes {
		if bytes.Contains(content, []byte(candidate.prefix)) {
			return candidate.ext
		}
	}
	return ""
}

func utf16LE(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		out = append(out, s[i], 0)
	}
	return out
}
