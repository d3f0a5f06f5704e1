package extract

import (
	"net/url"
	"sort"

	"coursedl/pkg/errors"
	"golang.org/x/net/html"
)

const (
	courseTitleClass = "wpcw_fe_course_title"
	moduleRowClass   = "wpcw_fe_module"
)

// VideoEntry is one lesson row of a catalog
type VideoEntry struct {
	Name    string
	PageURL string
}

// Catalog is the course structure found on a list page. Section keys are
// display labels of the form "<index> - <title>"; a repeated key replaces the
// earlier section of the same name.
type Catalog struct {
	Title    string
	Sections map[string][]VideoEntry
}

// SectionKeys returns the section keys in lexicographic order, which is the
// order sections are downloaded in
func (c *Catalog) SectionKeys() []string {
	keys := make([]string, 0, len(c.Sections))
	for k := range c.Sections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// VideoCount is the total number of entries across all sections
func (c *Catalog) VideoCount() int {
	n := 0
	for _, entries := range c.Sections {
		n += len(entries)
	}
	return n
}

// ExtractCatalog parses a course list page. Every module row names a section
// and carries an id; the section's lessons are the rows whose class is that
// id. Relative lesson links are resolved against base.
func ExtractCatalog(body []byte, base *url.URL) (*Catalog, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, errors.NewParseError("malformed catalog page: "+err.Error(), base.String())
	}

	titleNode := findFirst(doc, tagWithClass("div", courseTitleClass))
	if titleNode == nil {
		return nil, errors.NewParseError("course title not found", base.String())
	}

	catalog := &Catalog{
		Title:    text(titleNode),
		Sections: make(map[string][]VideoEntry),
	}

	for _, module := range findAll(doc, tagWithClass("tr", moduleRowClass)) {
		key, ok := rowLabel(module)
		if !ok {
			continue
		}

		var entries []VideoEntry
		if id, ok := attr(module, "id"); ok && id != "" {
			entries = moduleEntries(doc, id, base)
		}
		catalog.Sections[key] = entries
	}

	if len(catalog.Sections) == 0 {
		return nil, errors.NewParseError("no sections found", base.String())
	}

	return catalog, nil
}

func moduleEntries(doc *html.Node, moduleID string, base *url.URL) []VideoEntry {
	var entries []VideoEntry
	for _, row := range findAll(doc, tagWithClass("tr", moduleID)) {
		name, ok := rowLabel(row)
		if !ok {
			continue
		}
		link := findFirst(cells(row)[1], func(n *html.Node) bool {
			_, ok := attr(n, "href")
			return n.Data == "a" && ok
		})
		if link == nil {
			// locked lessons are listed without a link
			continue
		}
		href, _ := attr(link, "href")
		entries = append(entries, VideoEntry{
			Name:    name,
			PageURL: resolve(base, href),
		})
	}
	return entries
}

// rowLabel joins the text of a row's first two cells as "<a> - <b>"
func rowLabel(row *html.Node) (string, bool) {
	tds := cells(row)
	if len(tds) < 2 {
		return "", false
	}
	return text(tds[0]) + " - " + text(tds[1]), true
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
