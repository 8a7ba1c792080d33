package sitemap

import "encoding/xml"

// --- XML Structs for Sitemap Parsing ---

// xmlURL represents a <url> element in a sitemap
type xmlURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// xmlURLSet represents a <urlset> element in a sitemap
type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlURL `xml:"url"`
}

// xmlSitemap represents a <sitemap> element in a sitemap index file
type xmlSitemap struct {
	Loc string `xml:"loc"`
}

// xmlSitemapIndex represents a <sitemapindex> element
type xmlSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []xmlSitemap `xml:"sitemap"`
}
