package feeds_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"feedcast/feeds"
)

func TestCleanContent(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
		{
			name:     "no images",
			input:    `<p class="lead">Hello <b>world</b></p>`,
			expected: `<p class="lead">Hello <b>world</b></p>`,
		},
		{
			name:     "double quoted alt",
			input:    `<p>Hi <img src="a.png" alt="a cat"> there</p>`,
			expected: `<p>Hi <img src="a.png"> there</p>`,
		},
		{
			name:     "single quoted alt",
			input:    `<img alt='x' src='b.png'/>`,
			expected: `<img src="b.png"/>`,
		},
		{
			name:     "image without alt untouched",
			input:    `<IMG SRC='c.png' width=10>`,
			expected: `<IMG SRC='c.png' width=10>`,
		},
		{
			name:     "malformed markup preserved",
			input:    `<div><p>unclosed <img alt="" src="d.png"> <span>`,
			expected: `<div><p>unclosed <img src="d.png"> <span>`,
		},
		{
			name:     "truncated img keeps its tail",
			input:    `<p>Intro</p><img src="a.png" alt="x"> tail <img src="b.png" alt="y"`,
			expected: `<p>Intro</p><img src="a.png"> tail <img src="b.png" alt="y"`,
		},
		{
			name:     "truncated link keeps its tail",
			input:    `<p>Body <img alt="x" src="a.png"> and <a href="x`,
			expected: `<p>Body <img src="a.png"> and <a href="x`,
		},
		{
			name:     "truncated text after tags",
			input:    `<img src="a.png" alt="x"><p>cut mid sent`,
			expected: `<img src="a.png"><p>cut mid sent`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, feeds.CleanContent(tt.input))
		})
	}
}

func TestExtractImageURL(t *testing.T) {
	tests := []struct {
		name     string
		entry    feeds.Entry
		expected string
	}{
		{
			name:     "nothing",
			entry:    feeds.Entry{Summary: "<p>text</p>"},
			expected: "",
		},
		{
			name: "media content image",
			entry: feeds.Entry{
				MediaContents:   []feeds.Media{{URL: "video.mp4", Type: "video/mp4"}, {URL: "media.jpg", Type: "image/jpeg"}},
				MediaThumbnails: []string{"thumb.jpg"},
			},
			expected: "media.jpg",
		},
		{
			name: "media content by medium",
			entry: feeds.Entry{
				MediaContents: []feeds.Media{{URL: "medium.jpg", Medium: "image"}},
			},
			expected: "medium.jpg",
		},
		{
			name: "thumbnail before enclosure",
			entry: feeds.Entry{
				MediaContents:   []feeds.Media{{URL: "video.mp4", Type: "video/mp4"}},
				MediaThumbnails: []string{"thumb.jpg"},
				Enclosures:      []feeds.Media{{URL: "enc.jpg", Type: "image/jpeg"}},
			},
			expected: "thumb.jpg",
		},
		{
			name: "image enclosure",
			entry: feeds.Entry{
				Enclosures: []feeds.Media{{URL: "pod.mp3", Type: "audio/mpeg"}, {URL: "enc.png", Type: "image/png"}},
			},
			expected: "enc.png",
		},
		{
			name: "img in content",
			entry: feeds.Entry{
				Content: `<p>x</p><img alt="a" src="content.gif"><img src="second.gif">`,
				Summary: `<img src="summary.gif">`,
			},
			expected: "content.gif",
		},
		{
			name: "img in summary",
			entry: feeds.Entry{
				Summary: `<div><img src="summary.gif"></div>`,
			},
			expected: "summary.gif",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, feeds.ExtractImageURL(tt.entry))
		})
	}
}
