// Package export writes batches of items to timestamped JSON files for
// offline analysis
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"feedcast/models"
)

const (
	DefaultDir = "article_exports"

	filePrefix = "articles_"
	timeLayout = "20060102_150405"
)

// Exporter writes each batch to a new file in Dir. Files are never
// rewritten.
type Exporter struct {
	Dir string

	// Now is used for the record timestamp, time.Now when nil
	Now func() time.Time
}

// New creates an exporter writing to dir and creates the directory
func New(dir string) (*Exporter, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &Exporter{Dir: dir}, nil
}

func (e *Exporter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Export writes items as a new record and returns the file path
func (e *Exporter) Export(items []models.Item) (string, error) {
	if items == nil {
		items = []models.Item{}
	}

	now := e.now()
	record := models.Export{
		Timestamp:  now,
		TotalCount: len(items),
		Items:      items,
	}

	f, path, err := e.create(now)
	if err != nil {
		return "", err
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}

	log.WithFields(log.Fields{
		"path":  path,
		"count": len(items),
	}).Info("Exported articles")
	return path, nil
}

// create opens a new file named after now, adding a counter when a file for
// the same second already exists
func (e *Exporter) create(now time.Time) (*os.File, string, error) {
	name := filePrefix + now.Format(timeLayout)
	for n := 0; n < 100; n++ {
		filename := name + ".json"
		if n > 0 {
			filename = fmt.Sprintf("%s_%d.json", name, n)
		}
		path := filepath.Join(e.Dir, filename)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create export: %w", err)
		}
	}
	return nil, "", fmt.Errorf("create export: too many exports for %s", name)
}

// Latest reads the most recent export and returns up to limit of its items.
// A missing directory or no exports yields no items.
func (e *Exporter) Latest(limit int) ([]models.Item, error) {
	entries, err := os.ReadDir(e.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}

	files := lo.FilterMap(entries, func(entry os.DirEntry, _ int) (exportFile, bool) {
		if entry.IsDir() {
			return exportFile{}, false
		}
		return parseExportName(entry.Name())
	})
	if len(files) == 0 {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].stamp != files[j].stamp {
			return files[i].stamp < files[j].stamp
		}
		return files[i].seq < files[j].seq
	})

	data, err := os.ReadFile(filepath.Join(e.Dir, files[len(files)-1].name))
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}

	var record models.Export
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}

	if limit >= 0 && len(record.Items) > limit {
		record.Items = record.Items[:limit]
	}
	return record.Items, nil
}

type exportFile struct {
	name  string
	stamp string
	seq   int
}

// parseExportName splits articles_YYYYMMDD_HHMMSS[_N].json into its
// timestamp and collision counter
func parseExportName(name string) (exportFile, bool) {
	base, ok := strings.CutPrefix(name, filePrefix)
	if !ok {
		return exportFile{}, false
	}
	base, ok = strings.CutSuffix(base, ".json")
	if !ok || len(base) < len(timeLayout) {
		return exportFile{}, false
	}

	stamp, rest := base[:len(timeLayout)], base[len(timeLayout):]
	if _, err := time.Parse(timeLayout, stamp); err != nil {
		return exportFile{}, false
	}

	file := exportFile{name: name, stamp: stamp}
	if rest == "" {
		return file, true
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(rest, "_"))
	if err != nil || !strings.HasPrefix(rest, "_") || seq <= 0 {
		return exportFile{}, false
	}
	file.seq = seq
	return file, true
}
