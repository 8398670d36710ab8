package collector

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// sanitizeUTF8 drops invalid byte sequences and reports how many bytes were dropped.
func sanitizeUTF8(data []byte) (string, int) {
	if utf8.Valid(data) {
		return string(data), 0
	}

	var b strings.Builder
	b.Grow(len(data))
	dropped := 0
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			dropped++
		} else {
			b.Write(data[:size])
		}
		data = data[size:]
	}
	return b.String(), dropped
}

func isHTML(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm")
}

func extractHTMLText(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript").Remove()

	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	if strings.TrimSpace(content) == "" {
		content = doc.Find("body").Text()
	}

	title := strings.TrimSpace(doc.Find("title").Text())
	content = strings.Join(strings.Fields(content), " ")
	if title != "" && !strings.HasPrefix(content, title) {
		content = title + "\n" + content
	}

	return strings.TrimSpace(content), nil
}
