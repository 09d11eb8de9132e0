// Package feeds fetches feed documents and turns their entries into items
package feeds

import (
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// DateField is a named raw date value found on an entry
type DateField struct {
	Name  string
	Value string
}

// Media is a media reference with its declared MIME type and medium
type Media struct {
	URL    string
	Type   string
	Medium string
}

// IsImage reports whether the media declares itself as an image
func (m Media) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(m.Type), "image/") || strings.EqualFold(m.Medium, "image")
}

// Entry is a raw feed entry with every optional field the normalizer reads.
// Fields are empty when the feed does not provide them.
type Entry struct {
	Title   string
	Link    string
	Summary string
	Content string

	// Date candidates in order of preference
	Dates []DateField

	Tags            []string
	MediaContents   []Media
	MediaThumbnails []string
	Enclosures      []Media
}

// EntryFromItem extracts an Entry from a parsed gofeed item
func EntryFromItem(item *gofeed.Item) Entry {
	entry := Entry{
		Title:   strings.TrimSpace(item.Title),
		Link:    strings.TrimSpace(item.Link),
		Summary: item.Description,
		Content: item.Content,
		Tags:    item.Categories,
	}

	if entry.Link == "" && len(item.Links) > 0 {
		entry.Link = strings.TrimSpace(item.Links[0])
	}

	entry.Dates = append(entry.Dates,
		DateField{Name: "published", Value: item.Published},
		DateField{Name: "updated", Value: item.Updated},
		DateField{Name: "created", Value: extensionValue(item.Extensions, "dcterms", "created")},
	)
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Date) > 0 {
		entry.Dates = append(entry.Dates, DateField{Name: "date", Value: item.DublinCoreExt.Date[0]})
	}

	// gofeed understands more layouts than ParseDate, its results come last
	if item.PublishedParsed != nil {
		entry.Dates = append(entry.Dates, DateField{Name: "published_parsed", Value: item.PublishedParsed.UTC().Format(time.RFC3339)})
	}
	if item.UpdatedParsed != nil {
		entry.Dates = append(entry.Dates, DateField{Name: "updated_parsed", Value: item.UpdatedParsed.UTC().Format(time.RFC3339)})
	}

	for _, content := range mediaContents(item.Extensions) {
		entry.MediaContents = append(entry.MediaContents, Media{
			URL:    content.Attrs["url"],
			Type:   content.Attrs["type"],
			Medium: content.Attrs["medium"],
		})
	}

	for _, thumb := range mediaElements(item.Extensions, "thumbnail") {
		if u := thumb.Attrs["url"]; u != "" {
			entry.MediaThumbnails = append(entry.MediaThumbnails, u)
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		entry.MediaThumbnails = append(entry.MediaThumbnails, item.Image.URL)
	}

	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		entry.Enclosures = append(entry.Enclosures, Media{URL: enc.URL, Type: enc.Type})
	}

	return entry
}

// mediaContents returns media:content elements, including those nested in
// media:group
func mediaContents(exts ext.Extensions) []ext.Extension {
	contents := mediaElements(exts, "content")
	for _, group := range mediaElements(exts, "group") {
		contents = append(contents, group.Children["content"]...)
	}
	return contents
}

func mediaElements(exts ext.Extensions, name string) []ext.Extension {
	if exts == nil {
		return nil
	}
	media, ok := exts["media"]
	if !ok {
		return nil
	}
	return media[name]
}

func extensionValue(exts ext.Extensions, namespace, name string) string {
	if exts == nil {
		return ""
	}
	values := exts[namespace][name]
	if len(values) == 0 {
		return ""
	}
	return values[0].Value
}
