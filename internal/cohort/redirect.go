package cohort

import (
	"strings"

	"cohortdash/internal/domain"
)

var publicPaths = map[string]string{
	"lesson":   "lesson",
	"exercise": "interactive-exercise",
	"project":  "project",
}

// PublicPageURL returns the public page of an asset for a language. The asset
// type falls back to the route's content kind. ok is false for asset types
// without a public page.
func PublicPageURL(domainName, lang string, asset domain.Asset, routeSlug string, kind domain.ContentKind) (string, bool) {
	assetType := asset.AssetType
	if assetType == "" {
		assetType = kind.AssetType()
	}
	section, ok := publicPaths[strings.ToLower(assetType)]
	if !ok {
		return "", false
	}
	if lang == "" {
		lang = "en"
	}
	slug := translationSlug(lang, asset, routeSlug)
	base := strings.TrimRight(domainName, "/")
	if lang == "en" {
		return base + "/" + section + "/" + slug, true
	}
	return base + "/" + lang + "/" + section + "/" + slug, true
}

// translationSlug picks the slug of the asset translated to lang. English
// content is registered under "us".
func translationSlug(lang string, asset domain.Asset, routeSlug string) string {
	if lang == "en" {
		if s := asset.Translations["us"]; s != "" {
			return s
		}
	}
	if s := asset.Translations[lang]; s != "" {
		return s
	}
	if routeSlug != "" {
		return routeSlug
	}
	return asset.Slug
}
