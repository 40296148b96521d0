package index

import (
	"log"
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
)

const defaultIndexPath = "backup.bleve"

// Item is one completed backup asset as stored in the Bleve index. All
// fields are searchable under their lowercase JSON tag names, e.g.
// '+partition:Personal' or '+album:vacation'.
type Item struct {
	ID          string     `json:"id"`        // partition-qualified asset id
	AssetID     string     `json:"assetId"`   // raw source id
	Partition   string     `json:"partition"` // Personal / SharedWithMe / SharedAlbum:<name>
	Album       string     `json:"album,omitempty"`
	Kind        string     `json:"kind"` // Image, Video, LivePhotoImage, LivePhotoMotion
	Format      string     `json:"format"`
	Filename    string     `json:"filename"`
	TargetPath  string     `json:"targetPath"`
	SiblingPath string     `json:"siblingPath,omitempty"`
	SizeBytes   int64      `json:"sizeBytes"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	CapturedAt  *time.Time `json:"capturedAt,omitempty"`
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it
// doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	idx, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Printf("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		idx, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		log.Printf("Opened existing index at: %s", indexPath)
	}
	return idx, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(idx bleve.Index, item Item) error {
	return idx.Index(item.ID, item)
}

// SearchIndex performs a query-string search against the index.
func SearchIndex(idx bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"}
	return idx.Search(searchRequest)
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Printf("Attempting to delete index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
