package urlutil

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// NormalizeURL resolves ref against base and drops the fragment. The host
// is kept as the site serves it: the result is the article's stored key
// and the address its detail page is fetched from.
// Unparseable input is returned trimmed and untouched.
func NormalizeURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}

	if base != "" && !parsed.IsAbs() {
		baseURL, err := url.Parse(base)
		if err == nil {
			parsed = baseURL.ResolveReference(parsed)
		}
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""

	if parsed.Scheme == "" && parsed.Host != "" {
		parsed.Scheme = "https"
	}

	return parsed.String()
}

func ComputeContentHash(content string) string {
	hash := md5.Sum([]byte(content))
	return fmt.Sprintf("%x", hash)
}

// ShouldFollow applies exclude patterns first, then follow patterns.
// An empty follow list admits everything not excluded.
func ShouldFollow(urlStr string, followPatterns, excludePatterns []string) bool {
	for _, pattern := range excludePatterns {
		if MatchesPattern(urlStr, pattern) {
			return false
		}
	}

	if len(followPatterns) == 0 {
		return true
	}

	for _, pattern := range followPatterns {
		if MatchesPattern(urlStr, pattern) {
			return true
		}
	}

	return false
}

var patternCache sync.Map

// MatchesPattern reports whether urlStr matches the regular expression.
// Invalid patterns never match.
func MatchesPattern(urlStr string, pattern string) bool {
	if cached, ok := patternCache.Load(pattern); ok {
		re, _ := cached.(*regexp.Regexp)
		return re != nil && re.MatchString(urlStr)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		patternCache.Store(pattern, (*regexp.Regexp)(nil))
		return false
	}
	patternCache.Store(pattern, re)
	return re.MatchString(urlStr)
}
