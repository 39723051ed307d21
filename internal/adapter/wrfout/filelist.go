// Package wrfout locates and reads hourly WRF model output files for
// CONUS404 and maps them onto the pipeline's grid conventions.
package wrfout

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/template"
	"time"
)

// DefaultFilePattern locates hourly 2-D output under water-year directories.
const DefaultFilePattern = `{{.Dir}}/WY{{.WaterYear}}/wrf2d_d01_{{.Time.Format "2006-01-02_15:04:05"}}`

// FileNameFields are the values available to a file pattern.
type FileNameFields struct {
	Dir       string
	WaterYear int
	Time      time.Time
}

// WaterYear returns the water year containing t. Water year N starts on
// 1 October of year N-1.
func WaterYear(t time.Time) int {
	if t.Month() >= time.October {
		return t.Year() + 1
	}
	return t.Year()
}

// FilePattern renders model output paths for a timestamp.
type FilePattern struct {
	dir  string
	tmpl *template.Template
}

// NewFilePattern parses pattern for files rooted at dir.
func NewFilePattern(dir, pattern string) (*FilePattern, error) {
	if pattern == "" {
		pattern = DefaultFilePattern
	}
	tmpl, err := template.New("wrfout").Option("missingkey=error").Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("parse file pattern: %w", err)
	}
	return &FilePattern{dir: dir, tmpl: tmpl}, nil
}

// Path renders the path of the file holding t, filed under waterYear.
func (p *FilePattern) Path(t time.Time, waterYear int) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, FileNameFields{Dir: p.dir, WaterYear: waterYear, Time: t}); err != nil {
		return "", fmt.Errorf("render file pattern for %s: %w", t.Format(time.DateTime), err)
	}
	return buf.String(), nil
}

// FileList is the resolved input of one job.
type FileList struct {
	Files []string
	// Missing lists expected paths that were not found. Only populated when
	// the list was verified.
	Missing []string
}

// BuildFileList returns the hourly files for days days starting at start.
// Without verify every expected path is returned. With verify only existing
// files are kept; the 1 October 00:00 file, which the model writes at the end
// of the previous water year, is also looked up in that year's directory.
func BuildFileList(p *FilePattern, start time.Time, days int, verify bool) (FileList, error) {
	var list FileList
	for h := 0; h < days*24; h++ {
		t := start.Add(time.Duration(h) * time.Hour)
		wy := WaterYear(t)
		path, err := p.Path(t, wy)
		if err != nil {
			return FileList{}, err
		}
		if !verify {
			list.Files = append(list.Files, path)
			continue
		}

		ok, err := exists(path)
		if err != nil {
			return FileList{}, err
		}
		if !ok && t.Month() == time.October && t.Day() == 1 && t.Hour() == 0 {
			alt, err := p.Path(t, wy-1)
			if err != nil {
				return FileList{}, err
			}
			if ok, err = exists(alt); err != nil {
				return FileList{}, err
			}
			if ok {
				path = alt
			}
		}
		if ok {
			list.Files = append(list.Files, path)
		} else {
			list.Missing = append(list.Missing, path)
		}
	}
	return list, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
}
