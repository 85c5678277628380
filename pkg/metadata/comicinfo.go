package metadata

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"

	"chaptervault/pkg/manga"
)

// ComicInfoName is the sidecar file name inside every chapter archive
const ComicInfoName = "ComicInfo.xml"

// ComicInfo is the per-chapter metadata sidecar read by catalog viewers
type ComicInfo struct {
	Tags        []string
	LanguageISO string
	Title       string
	Writers     []string
	Volume      string
	Number      string
}

// NewComicInfo collects the sidecar fields for a chapter of its publication
func NewComicInfo(ch manga.Chapter) *ComicInfo {
	info := &ComicInfo{
		Title:  ch.Name,
		Volume: ch.FormattedVolume(),
		Number: ch.FormattedNumber(),
	}
	if pub := ch.Publication; pub != nil {
		info.Tags = pub.Tags
		info.Writers = pub.Authors
		info.LanguageISO = pub.OriginalLanguage
	}
	return info
}

// Document builds the XML tree. Element order is fixed.
func (c *ComicInfo) Document() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.WriteSettings = etree.WriteSettings{
		CanonicalText:    true,
		CanonicalAttrVal: true,
	}

	root := doc.CreateElement("ComicInfo")
	root.CreateElement("Tags").SetText(strings.Join(c.Tags, ","))
	root.CreateElement("LanguageISO").SetText(c.LanguageISO)
	root.CreateElement("Title").SetText(c.Title)
	root.CreateElement("Writer").SetText(strings.Join(c.Writers, ","))
	root.CreateElement("Volume").SetText(c.Volume)
	root.CreateElement("Number").SetText(c.Number)

	doc.Indent(2)
	return doc
}

// WriteTo writes the XML document to w
func (c *ComicInfo) WriteTo(w io.Writer) (int64, error) {
	n, err := c.Document().WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", ComicInfoName, err)
	}
	return n, nil
}

// Bytes returns the serialized document
func (c *ComicInfo) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseComicInfo reads a sidecar back, used by the archive checks
func ParseComicInfo(data []byte) (*ComicInfo, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ComicInfoName, err)
	}

	root := doc.SelectElement("ComicInfo")
	if root == nil {
		return nil, fmt.Errorf("%s has no ComicInfo root", ComicInfoName)
	}

	text := func(tag string) string {
		if el := root.SelectElement(tag); el != nil {
			return el.Text()
		}
		return ""
	}
	split := func(s string) []string {
		if s == "" {
			return nil
		}
		return strings.Split(s, ",")
	}

	return &ComicInfo{
		Tags:        split(text("Tags")),
		LanguageISO: text("LanguageISO"),
		Title:       text("Title"),
		Writers:     split(text("Writer")),
		Volume:      text("Volume"),
		Number:      text("Number"),
	}, nil
}
