// Package parser extracts plain text from uploaded legal documents.
// Supported formats: PDF, DOCX, TXT.
package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupportedType is returned for file extensions other than
	// .pdf, .docx, and .txt.
	ErrUnsupportedType = errors.New("unsupported file type, upload a PDF, DOCX, or TXT file")

	// ErrInvalidFile is returned when a file cannot be parsed as its
	// claimed format.
	ErrInvalidFile = errors.New("invalid or corrupted file")
)

// Parse extracts the text content of the file, dispatching on the extension.
func Parse(fileName string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return parsePDF(data)
	case ".docx":
		return parseDOCX(data)
	case ".txt":
		return parseText(data)
	default:
		return "", ErrUnsupportedType
	}
}

func parsePDF(data []byte) (text string, err error) {
	// The pdf library panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrInvalidFile, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	content, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, content); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return sb.String(), nil
}

// parseDOCX pulls the run text out of word/document.xml. DOCX is an OOXML
// zip; paragraphs become newlines, runs concatenate.
func parseDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	var docXML io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidFile, err)
			}
			break
		}
	}
	if docXML == nil {
		return "", fmt.Errorf("%w: missing word/document.xml", ErrInvalidFile)
	}
	defer docXML.Close()

	var sb strings.Builder
	dec := xml.NewDecoder(docXML)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidFile, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func parseText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidFile)
	}
	return string(data), nil
}
