package crawl

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// listingRow is one media file row recovered from a DCIM listing page.
type listingRow struct {
	// Href is the URL path the file is served under.
	Href string
	// Name is the bare file name, taken from the last href segment.
	Name string
	// Date is the capture date column, normalised to YYYY-MM-DD.
	Date string
	// Size is the advertised size in bytes, 0 when the column is absent
	// or unparseable.
	Size int64
}

// errNoTable marks a page with no recognisable listing structure.
var errNoTable = fmt.Errorf("listing page contains no table")

// parseListing recovers file rows from a camera listing page. The page is
// a plain HTML table: column 0 holds the file link, column 1 a size,
// column 2 the capture date. A page without any table is an error; rows
// that deviate from the expected shape are skipped and counted so the
// caller can log a warning.
func parseListing(page []byte) (rows []listingRow, skipped int, err error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		// html.Parse almost never fails (it repairs broken markup), but a
		// truncated stream can still surface here.
		return nil, 0, fmt.Errorf("parse listing page: %w", err)
	}

	table := findFirst(doc, "table")
	if table == nil {
		return nil, 0, errNoTable
	}

	for _, tr := range findAll(table, "tr") {
		cells := findAll(tr, "td")
		if len(cells) <= 1 {
			// Header and separator rows look like this; not worth a warning.
			continue
		}
		anchor := findFirst(cells[0], "a")
		if anchor == nil {
			skipped++
			continue
		}
		href := attr(anchor, "href")
		if href == "" {
			skipped++
			continue
		}
		row := listingRow{
			Href: href,
			Name: href[strings.LastIndex(href, "/")+1:],
		}
		if len(cells) > 1 {
			row.Size = parseSize(text(cells[1]))
		}
		if len(cells) > 2 {
			row.Date = strings.ReplaceAll(strings.TrimSpace(text(cells[2])), "/", "-")
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

// parseSize interprets the size column, which is either a bare byte count
// or a number with a KB/MB suffix.
func parseSize(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		mult, s = 1024, strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		mult, s = 1024*1024, strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || n < 0 {
		return 0
	}
	return int64(n * float64(mult))
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
