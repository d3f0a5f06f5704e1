package extract

import (
	"net/url"

	"coursedl/pkg/errors"
	"golang.org/x/net/html"
)

const (
	videoLinkClass   = "fw-video-link"
	videoLinkAttr    = "data-video"
	archiveLinkClass = "sf-button"
	entryTitleClass  = "entry-title"
)

// MediaKind says how the bytes behind a video page are obtained
type MediaKind int

const (
	NoMedia MediaKind = iota
	DirectVideo
	ArchiveLinks
)

func (k MediaKind) String() string {
	switch k {
	case DirectVideo:
		return "direct_video"
	case ArchiveLinks:
		return "archive_links"
	default:
		return "no_media"
	}
}

// MediaDescriptor is a tagged union over MediaKind. PlayerRef is set only
// for DirectVideo, ArchiveURLs only for ArchiveLinks.
type MediaDescriptor struct {
	Kind        MediaKind
	PlayerRef   string
	ArchiveURLs []string
}

// VideoPage is what a lesson page offers
type VideoPage struct {
	Title string
	Media MediaDescriptor
}

// ExtractVideoPage parses a lesson page. A player link makes it a
// DirectVideo; otherwise every material button becomes an archive link,
// duplicates included. When wantTitle is set, a DirectVideo page without a
// heading is a parse error.
func ExtractVideoPage(body []byte, pageURL *url.URL, wantTitle bool) (*VideoPage, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, errors.NewParseError("malformed video page: "+err.Error(), pageURL.String())
	}

	page := &VideoPage{}
	if h := findFirst(doc, tagWithClass("h1", entryTitleClass)); h != nil {
		page.Title = text(h)
	}

	player := findFirst(doc, func(n *html.Node) bool {
		_, ok := attr(n, videoLinkAttr)
		return ok && n.Data == "a" && hasClass(n, videoLinkClass)
	})
	if player != nil {
		ref, _ := attr(player, videoLinkAttr)
		page.Media = MediaDescriptor{Kind: DirectVideo, PlayerRef: resolve(pageURL, ref)}
		if wantTitle && page.Title == "" {
			return nil, errors.NewParseError("video title not found", pageURL.String())
		}
		return page, nil
	}

	var archives []string
	for _, a := range findAll(doc, tagWithClass("a", archiveLinkClass)) {
		if href, ok := attr(a, "href"); ok && href != "" {
			archives = append(archives, resolve(pageURL, href))
		}
	}
	if len(archives) > 0 {
		page.Media = MediaDescriptor{Kind: ArchiveLinks, ArchiveURLs: archives}
	}

	return page, nil
}

// Form is a parsed HTML form ready to be posted
type Form struct {
	Values url.Values
}

// ExtractForm finds the form with the given id and collects every input that
// has both a name and a value, so hidden and CSRF fields are preserved. The
// form's action is ignored; callers post back to the page the form came from.
func ExtractForm(body []byte, formID string, pageURL *url.URL) (*Form, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, errors.NewParseError("malformed page: "+err.Error(), pageURL.String())
	}

	form := findFirst(doc, formWithID(formID))
	if form == nil {
		return nil, errors.NewParseError("form #"+formID+" not found", pageURL.String())
	}

	values := url.Values{}
	for _, input := range findAll(form, tag("input")) {
		name, hasName := attr(input, "name")
		value, hasValue := attr(input, "value")
		if hasName && hasValue && name != "" {
			values.Set(name, value)
		}
	}

	return &Form{Values: values}, nil
}

// HasForm reports whether the page contains the form with the given id
func HasForm(body []byte, formID string) bool {
	doc, err := parse(body)
	if err != nil {
		return false
	}
	return findFirst(doc, formWithID(formID)) != nil
}

func formWithID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		v, ok := attr(n, "id")
		return ok && v == id && n.Data == "form"
	}
}
