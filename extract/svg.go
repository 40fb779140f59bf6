package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// SVGURLs returns the URLs referenced by an SVG document: img srcset and
// src, href/xlink:href of image, use and stylesheet links, object data,
// and everything CSSURLs finds in <style> elements and style attributes.
// Local references ("#id") are dropped.
//
// The markup is parsed leniently, as a browser would for an HTML document
// embedding SVG.
func SVGURLs(svg []byte) ([]string, error) {
	root, err := html.Parse(bytes.NewReader(svg))
	if err != nil {
		return nil, fmt.Errorf("extract: parse svg: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	var found []string
	doc.Find("img[srcset]").Each(func(_ int, s *goquery.Selection) {
		srcset, _ := s.Attr("srcset")
		found = append(found, srcsetURLs(srcset)...)
	})
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		found = append(found, s.AttrOr("src", ""))
	})
	doc.Find("image, use, link[rel=stylesheet]").Each(func(_ int, s *goquery.Selection) {
		if h := hrefAttr(s); h != "" {
			found = append(found, h)
		}
	})
	doc.Find("object[data]").Each(func(_ int, s *goquery.Selection) {
		found = append(found, s.AttrOr("data", ""))
	})
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		found = append(found, CSSURLs(s.Text())...)
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		found = append(found, CSSURLs(s.AttrOr("style", ""))...)
	})

	kept := found[:0]
	for _, u := range found {
		if !strings.HasPrefix(strings.TrimSpace(u), "#") {
			kept = append(kept, u)
		}
	}
	return normalize(kept), nil
}

// hrefAttr returns href, falling back to xlink:href. The HTML parser keeps
// the namespace apart from the key, so both forms are checked.
func hrefAttr(s *goquery.Selection) string {
	if len(s.Nodes) == 0 {
		return ""
	}
	var xlink string
	for _, a := range s.Nodes[0].Attr {
		switch {
		case a.Key == "href" && a.Namespace == "":
			return a.Val
		case a.Key == "xlink:href", a.Key == "href" && a.Namespace == "xlink":
			xlink = a.Val
		}
	}
	return xlink
}

// srcsetURLs takes the first token of every comma-separated candidate.
func srcsetURLs(srcset string) []string {
	var out []string
	for _, cand := range strings.Split(srcset, ",") {
		fields := strings.Fields(cand)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}
