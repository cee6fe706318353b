package wikihtml

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// GalleryItem is one captioned image taken from a gallery block.
type GalleryItem struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

const (
	galleryBlockSelector   = ".gallery, .wikia-gallery"
	galleryItemSelector    = ".gallerybox, .wikia-gallery-item"
	galleryCaptionSelector = ".gallerytext, .lightbox-caption"
)

// ExtractGallery collects the images of every gallery block under root and
// detaches those blocks, so their captions do not show up again when the
// remaining tree is converted.
func ExtractGallery(root *html.Node, baseURL string) []GalleryItem {
	if root == nil {
		return nil
	}
	base := parseBase(baseURL)
	blocks := goquery.NewDocumentFromNode(root).Find(galleryBlockSelector)

	var items []GalleryItem
	blocks.Find(galleryItemSelector).Each(func(_ int, box *goquery.Selection) {
		img := box.Find("img").First()
		src, _ := img.Attr("data-src")
		if src == "" {
			src, _ = img.Attr("src")
		}
		if strings.TrimSpace(src) == "" {
			return
		}
		item := GalleryItem{URL: FullSizeImageURL(absoluteURL(base, src))}
		if caption := box.Find(galleryCaptionSelector).First(); caption.Length() > 0 {
			item.Caption = ConvertNode(caption.Get(0), baseURL)
		}
		items = append(items, item)
	})
	blocks.Remove()
	return items
}
