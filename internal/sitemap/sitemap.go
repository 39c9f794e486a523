// Package sitemap builds the public sitemap from the registry and the public
// syllabus listing.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"cohortdash/internal/breathecode"
	"cohortdash/internal/domain"
)

const xmlns = "http://www.sitemaps.org/schemas/sitemap/0.9"

// Source lists the public content a sitemap links to.
type Source interface {
	PublicSyllabi(ctx context.Context, slug string) ([]breathecode.PublicSyllabus, error)
	Assets(ctx context.Context, assetType string, big bool) ([]domain.Asset, error)
}

type Options struct {
	WebsiteURL string
	// Syllabus filters the public syllabus listing.
	Syllabus    string
	StaticPages []string
	// PrivatePrefixes drops static pages that need a session.
	PrivatePrefixes []string
	Now             func() time.Time
}

type URL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []URL    `xml:"url"`
}

type listing struct {
	assetType string
	big       bool
	prefixes  []string
}

// Asset listings in the order they appear in the sitemap.
var listings = []listing{
	{assetType: "lesson", prefixes: []string{"/lesson/"}},
	{assetType: "exercise", big: true, prefixes: []string{"/interactive-exercises/"}},
	{assetType: "project", prefixes: []string{"/project/", "/interactive-coding-tutorial/"}},
	{assetType: "ARTICLE", prefixes: []string{"/how-to/"}},
}

// Routes collects every public route: static pages first, then public
// syllabi and asset pages. Listings are fetched concurrently; any failure
// fails the whole build.
func Routes(ctx context.Context, src Source, opts Options) ([]string, error) {
	var (
		read   []breathecode.PublicSyllabus
		assets = make([][]domain.Asset, len(listings))
	)
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		out, err := src.PublicSyllabi(ctx, opts.Syllabus)
		if err != nil {
			return fmt.Errorf("list public syllabi: %w", err)
		}
		read = out
		return nil
	})
	for i, l := range listings {
		p.Go(func(ctx context.Context) error {
			out, err := src.Assets(ctx, l.assetType, l.big)
			if err != nil {
				return fmt.Errorf("list %s assets: %w", l.assetType, err)
			}
			assets[i] = out
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	routes := StaticRoutes(opts.StaticPages, opts.PrivatePrefixes)
	for _, s := range read {
		routes = append(routes, "/read/"+s.Slug)
	}
	for i, l := range listings {
		// project pages are listed once per prefix, all /project/ first.
		for _, prefix := range l.prefixes {
			for _, a := range assets[i] {
				routes = append(routes, prefix+a.Slug)
			}
		}
	}
	return routes, nil
}

// StaticRoutes drops dynamic, internal and private pages from the configured
// static page list.
func StaticRoutes(pages, privatePrefixes []string) []string {
	out := []string{}
	for _, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" || strings.ContainsAny(page, "[]") {
			continue
		}
		if !strings.HasPrefix(page, "/") {
			page = "/" + page
		}
		if page == "/index" {
			page = "/"
		}
		if isInternal(page) || isPrivate(page, privatePrefixes) {
			continue
		}
		out = append(out, page)
	}
	return out
}

func isInternal(page string) bool {
	if page == "/api" || strings.HasPrefix(page, "/api/") {
		return true
	}
	for _, seg := range strings.Split(page, "/") {
		if strings.HasPrefix(seg, "_") {
			return true
		}
	}
	return false
}

func isPrivate(page string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if page == p || strings.HasPrefix(page, p+"/") {
			return true
		}
	}
	return false
}

// Build returns the url set for routes rooted at the website URL.
func Build(routes []string, opts Options) URLSet {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	lastmod := now().UTC().Format(time.RFC3339)
	base := strings.TrimRight(opts.WebsiteURL, "/")
	set := URLSet{Xmlns: xmlns, URLs: make([]URL, 0, len(routes))}
	for _, r := range routes {
		loc := base + r
		if r == "/" {
			loc = base
		}
		set.URLs = append(set.URLs, URL{Loc: loc, LastMod: lastmod, ChangeFreq: "monthly", Priority: "1.0"})
	}
	return set
}

// Generate fetches the routes and writes the sitemap document to w.
func Generate(ctx context.Context, w io.Writer, src Source, opts Options) (int, error) {
	routes, err := Routes(ctx, src, opts)
	if err != nil {
		return 0, err
	}
	set := Build(routes, opts)
	if err := Write(w, set); err != nil {
		return 0, err
	}
	return len(set.URLs), nil
}

func Write(w io.Writer, set URLSet) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return fmt.Errorf("encode sitemap: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}
