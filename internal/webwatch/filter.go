package webwatch

import (
	"strings"
	"sync"
	"time"
)

// DefaultBrowsers is the default allow-list of browser package ids.
var DefaultBrowsers = []string{
	"com.android.chrome",
	"org.mozilla.firefox",
	"com.opera.browser",
	"com.brave.browser",
	"com.microsoft.emmx",
	"com.sec.android.app.sbrowser",
}

// DefaultSearchPatterns are URL substrings that mark search result pages.
var DefaultSearchPatterns = []string{"google.com/search"}

// Drop reasons reported by [Filter.Accept].
const (
	DropPackage   = "package"
	DropNotURL    = "not_url"
	DropSearch    = "search"
	DropDuplicate = "duplicate"
)

// Filter decides which navigation events are worth fetching. Checks run in a
// fixed order: package allow-list, URL normalisation, search page filter and
// finally a single-slot duplicate window. It is safe for concurrent use.
type Filter struct {
	now func() time.Time

	mu       sync.Mutex
	allowed  map[string]struct{}
	search   []string
	window   time.Duration
	lastURL  string
	lastTime time.Time
}

// NewFilter returns a filter. Nil slices select the defaults; a non-positive
// window selects 5s. now may be nil.
func NewFilter(allowed, searchPatterns []string, window time.Duration, now func() time.Time) *Filter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = 5 * time.Second
	}
	f := &Filter{now: now, window: window}
	f.SetAllowed(allowed)
	f.SetSearchPatterns(searchPatterns)
	return f
}

// SetAllowed replaces the package allow-list. Nil selects [DefaultBrowsers].
func (f *Filter) SetAllowed(pkgs []string) {
	if pkgs == nil {
		pkgs = DefaultBrowsers
	}
	set := make(map[string]struct{}, len(pkgs))
	for _, p := range pkgs {
		set[strings.TrimSpace(p)] = struct{}{}
	}
	f.mu.Lock()
	f.allowed = set
	f.mu.Unlock()
}

// SetSearchPatterns replaces the search page patterns. Nil selects
// [DefaultSearchPatterns].
func (f *Filter) SetSearchPatterns(patterns []string) {
	if patterns == nil {
		patterns = DefaultSearchPatterns
	}
	f.mu.Lock()
	f.search = append([]string(nil), patterns...)
	f.mu.Unlock()
}

// Accept runs an event through the pipeline. On success it returns the
// normalised URL and records it as the last accepted one; otherwise it
// returns the drop reason.
func (f *Filter) Accept(pkg, text string) (url, reason string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, allowed := f.allowed[pkg]; !allowed {
		return "", DropPackage, false
	}
	url, ok = NormalizeURL(text)
	if !ok {
		return "", DropNotURL, false
	}
	for _, p := range f.search {
		if p != "" && strings.Contains(url, p) {
			return "", DropSearch, false
		}
	}
	now := f.now()
	if url == f.lastURL && now.Sub(f.lastTime) < f.window {
		return "", DropDuplicate, false
	}
	f.lastURL = url
	f.lastTime = now
	return url, "", true
}

// NormalizeURL turns address bar text into a URL. Text starting with "http"
// is used as is; text containing a slash is treated as a scheme-less URL and
// gets "https://" prefixed. Anything else is rejected.
func NormalizeURL(text string) (string, bool) {
	t := strings.TrimSpace(text)
	switch {
	case t == "":
		return "", false
	case strings.HasPrefix(t, "http"):
		return t, true
	case strings.Contains(t, "/"):
		return "https://" + t, true
	default:
		return "", false
	}
}
