package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageMarker separates the text of consecutive PDF pages. It is
// whitespace so chunking never glues words across a page break.
const PageMarker = "\f"

func extractPDF(data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty byte stream", ErrCorruptFile)
	}

	// The reader panics on some malformed files; treat that as corruption.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrCorruptFile, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	pages := make([]string, 0, reader.NumPage())
	fonts := make(map[string]*pdf.Font)
	for num := 1; num <= reader.NumPage(); num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, pageErr := page.GetPlainText(fonts)
		if pageErr != nil {
			// Scanned or image-only pages yield no text, not a failure.
			pages = append(pages, "")
			continue
		}
		pages = append(pages, strings.TrimSpace(content))
	}

	return strings.Join(pages, PageMarker), nil
}
