package source

import (
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const powerOnMarker = "💡"

var (
	reQueue = regexp.MustCompile(`Черга\s+(\d+(?:\.\d+)*)`)
	reRange = regexp.MustCompile(`(\d{2}:\d{2})\s*[–-]\s*(\d{2}:\d{2})`)
)

// Parse extracts queue -> outage ranges from one schedule page.
//
// A queue heading is a <strong> containing "Черга <id>"; its windows are the
// <li> items of the first <ul> that follows it in document order. Items
// marked with 💡 describe power-on periods and are skipped. A heading with no
// following list maps to an empty slice.
func Parse(r io.Reader) (map[string][]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	out := map[string][]string{}
	var pending []string
	doc.Find("strong, ul").Each(func(_ int, sel *goquery.Selection) {
		switch goquery.NodeName(sel) {
		case "strong":
			m := reQueue.FindStringSubmatch(sel.Text())
			if m == nil {
				return
			}
			q := m[1]
			if _, seen := out[q]; !seen {
				out[q] = []string{}
			}
			pending = append(pending, q)
		case "ul":
			if len(pending) == 0 {
				return
			}
			slots := listRanges(sel)
			for _, q := range pending {
				out[q] = append([]string{}, slots...)
			}
			pending = pending[:0]
		}
	})
	return out, nil
}

func listRanges(ul *goquery.Selection) []string {
	slots := []string{}
	ul.Find("li").Each(func(_ int, li *goquery.Selection) {
		text := strings.TrimSpace(li.Text())
		if strings.Contains(text, powerOnMarker) {
			return
		}
		m := reRange.FindStringSubmatch(text)
		if m == nil {
			return
		}
		slots = append(slots, m[1]+"-"+m[2])
	})
	return slots
}
