package feeds

import (
	"errors"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CleanContent removes alt attributes from img tags. Everything else is
// copied through byte for byte, including a trailing tag cut off by the end
// of the input. The input is returned unchanged if it cannot be tokenized.
func CleanContent(content string) string {
	if !strings.Contains(strings.ToLower(content), "<img") {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	// Bytes of content covered by complete tokens
	consumed := 0

	z := html.NewTokenizer(strings.NewReader(content))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if !errors.Is(z.Err(), io.EOF) || consumed > len(content) {
				return content
			}
			b.WriteString(content[consumed:])
			return b.String()

		case html.StartTagToken, html.SelfClosingTagToken:
			// Token lowercases the tokenizer buffer in place, so copy the raw bytes first
			raw := string(z.Raw())
			consumed += len(raw)
			tok := z.Token()
			if tok.DataAtom != atom.Img || !hasAttr(tok, "alt") {
				b.WriteString(raw)
				continue
			}
			tok.Attr = lo.Reject(tok.Attr, func(a html.Attribute, _ int) bool {
				return a.Namespace == "" && strings.EqualFold(a.Key, "alt")
			})
			b.WriteString(tok.String())

		default:
			raw := z.Raw()
			consumed += len(raw)
			b.Write(raw)
		}
	}
}

func hasAttr(tok html.Token, key string) bool {
	return lo.ContainsBy(tok.Attr, func(a html.Attribute) bool {
		return strings.EqualFold(a.Key, key)
	})
}

// FirstImageSrc returns the src of the first img tag in an HTML fragment
func FirstImageSrc(fragment string) string {
	if !strings.Contains(strings.ToLower(fragment), "<img") {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}

	var src string
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src = strings.TrimSpace(s.AttrOr("src", ""))
		return src == ""
	})
	return src
}

// ExtractImageURL picks the image of an entry. Media contents come first,
// then thumbnails, enclosures and finally the first img in the body.
func ExtractImageURL(entry Entry) string {
	for _, m := range entry.MediaContents {
		if m.URL != "" && m.IsImage() {
			return m.URL
		}
	}

	for _, u := range entry.MediaThumbnails {
		if u != "" {
			return u
		}
	}

	for _, m := range entry.Enclosures {
		if m.URL != "" && m.IsImage() {
			return m.URL
		}
	}

	if src := FirstImageSrc(entry.Content); src != "" {
		return src
	}
	return FirstImageSrc(entry.Summary)
}
