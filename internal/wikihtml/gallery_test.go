package wikihtml

import (
	"strings"
	"testing"
)

const gallerySection = `<div class="mw-parser-output"><h2><span class="mw-headline" id="Gallery">Gallery</span></h2>
<p>Screenshots of the item.</p>
<ul class="gallery mw-gallery-traditional">
<li class="gallerybox"><div class="thumb"><span typeof="mw:File"><a href="/File:Boots.png" class="mw-file-description"><img src="/images/thumb/a/ab/Boots.png/120px-Boots.png"></a></span></div><div class="gallerytext">Boots in the <b>shop</b></div></li>
<li class="gallerybox"><div class="thumb"><img data-src="https://cdn.example/images/c/cd/Race.png" src="data:image/gif;base64,R0lGOD"></div><div class="gallerytext">Boots during a race</div></li>
</ul>
</div>`

func TestExtractGalleryDetachesCaptions(t *testing.T) {
	root, err := Parse(gallerySection)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	items := ExtractGallery(root, testBase)
	if len(items) != 2 {
		t.Fatalf("expected 2 gallery items, got %d: %+v", len(items), items)
	}
	if items[0].URL != "https://superstarracers.wiki/images/a/ab/Boots.png" || items[0].Caption != "Boots in the **shop**" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].URL != "https://cdn.example/images/c/cd/Race.png" || items[1].Caption != "Boots during a race" {
		t.Fatalf("unexpected second item: %+v", items[1])
	}

	text := ConvertNode(root, testBase)
	if text != "## Gallery\n\nScreenshots of the item." {
		t.Fatalf("unexpected remainder: %q", text)
	}
	for _, item := range items {
		if strings.Contains(text, item.Caption) || strings.Contains(text, "race") {
			t.Fatalf("caption %q duplicated in text %q", item.Caption, text)
		}
	}
}

func TestExtractGalleryWithoutGallery(t *testing.T) {
	root, err := Parse(`<p>No images here.</p>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if items := ExtractGallery(root, testBase); len(items) != 0 {
		t.Fatalf("expected no items, got %+v", items)
	}
	if got := ConvertNode(root, testBase); got != "No images here." {
		t.Fatalf("unexpected text: %q", got)
	}
}
