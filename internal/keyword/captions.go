package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/kioku/internal/models"
)

const (
	fieldUser    = "user"
	fieldPath    = "path"
	fieldName    = "name"
	fieldCaption = "caption"

	// idSep separates user id and path in document ids. User ids never contain it.
	idSep = "\x1f"

	pageSize = 1000
)

// CaptionIndex is a Bleve index of photo captions for all users. Every query is scoped to
// one user through the keyword-analyzed user field.
type CaptionIndex struct {
	index bleve.Index
}

// NewCaptionIndex creates or opens a caption index at path.
// If you change the mapping in code, remove the index directory; the manager resyncs each
// user's captions when the user is materialized.
func NewCaptionIndex(path string) (*CaptionIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open caption index: %w", err)
		}
		return &CaptionIndex{index: index}, nil
	}
	index, err := bleve.New(path, captionMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create caption index: %w", err)
	}
	return &CaptionIndex{index: index}, nil
}

// NewMemCaptionIndex returns an in-memory caption index, for tests and one-shot CLI runs.
func NewMemCaptionIndex() (*CaptionIndex, error) {
	index, err := bleve.NewMemOnly(captionMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create caption index: %w", err)
	}
	return &CaptionIndex{index: index}, nil
}

func captionMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// Standard analyzer (lowercase + tokenize, no stemming) so "boats" does not match "boat"
	// through a stemmer nobody configured for the caption language.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt(fieldCaption, text)

	name := bleve.NewTextFieldMapping()
	name.Analyzer = standard.Name
	name.Store = false
	doc.AddFieldMappingsAt(fieldName, name)

	exact := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt(fieldUser, exact)
	doc.AddFieldMappingsAt(fieldPath, bleve.NewKeywordFieldMapping())

	im.DefaultMapping = doc
	return im
}

func docID(userID, path string) string {
	return userID + idSep + path
}

func captionDoc(userID, path, caption string) map[string]interface{} {
	return map[string]interface{}{
		fieldUser:    userID,
		fieldPath:    path,
		fieldName:    nameTerms(path),
		fieldCaption: caption,
	}
}

// IndexCaption indexes or replaces the caption of one photo.
func (c *CaptionIndex) IndexCaption(ctx context.Context, userID, path, caption string) error {
	return c.index.Index(docID(userID, path), captionDoc(userID, path, caption))
}

// DeleteCaption removes one photo. Deleting an unknown photo is not an error.
func (c *CaptionIndex) DeleteCaption(ctx context.Context, userID, path string) error {
	return c.index.Delete(docID(userID, path))
}

// SyncUser replaces every document of userID with photos in one batch.
func (c *CaptionIndex) SyncUser(ctx context.Context, userID string, photos []models.Photo) error {
	existing, err := c.userDocIDs(userID)
	if err != nil {
		return err
	}
	batch := c.index.NewBatch()
	keep := make(map[string]struct{}, len(photos))
	for _, p := range photos {
		id := docID(userID, p.Path)
		keep[id] = struct{}{}
		if err := batch.Index(id, captionDoc(userID, p.Path, p.Caption)); err != nil {
			return fmt.Errorf("batch caption %s: %w", p.Path, err)
		}
	}
	for _, id := range existing {
		if _, ok := keep[id]; !ok {
			batch.Delete(id)
		}
	}
	if err := c.index.Batch(batch); err != nil {
		return fmt.Errorf("sync captions of user %s: %w", userID, err)
	}
	return nil
}

// Search returns up to limit photos of userID whose caption or file name matches query,
// best first.
func (c *CaptionIndex) Search(ctx context.Context, userID, query string, limit int, opts *SearchOptions) ([]Hit, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	nameBoost := 0.5
	fuzzy := false
	fuzziness := 1
	if opts != nil {
		if opts.NameBoost > 0 {
			nameBoost = opts.NameBoost
		}
		fuzzy = opts.Fuzzy
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var text blevequery.Query
	if fuzzy {
		text = fuzzyQuery(query, fuzziness)
	} else {
		caption := bleve.NewMatchQuery(query)
		caption.SetField(fieldCaption)
		name := bleve.NewMatchQuery(query)
		name.SetField(fieldName)
		name.SetBoost(nameBoost)
		text = bleve.NewDisjunctionQuery(caption, name)
	}
	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(userQuery(userID), text))
	req.Size = limit
	req.Fields = []string{fieldPath, fieldCaption}
	res, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("caption search failed: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		path, _ := h.Fields[fieldPath].(string)
		if path == "" {
			path = strings.TrimPrefix(h.ID, userID+idSep)
		}
		caption, _ := h.Fields[fieldCaption].(string)
		hits = append(hits, Hit{Path: path, Caption: caption, Score: h.Score})
	}
	return hits, nil
}

// fuzzyQuery matches any query term within fuzziness edits in the caption or the name.
func fuzzyQuery(query string, fuzziness int) blevequery.Query {
	terms := Terms(query)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(fieldCaption)
		return mq
	}
	qs := make([]blevequery.Query, 0, 2*len(terms))
	for _, term := range terms {
		for _, field := range []string{fieldCaption, fieldName} {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzziness)
			fq.SetField(field)
			qs = append(qs, fq)
		}
	}
	return bleve.NewDisjunctionQuery(qs...)
}

func userQuery(userID string) *blevequery.TermQuery {
	q := bleve.NewTermQuery(userID)
	q.SetField(fieldUser)
	return q
}

// userDocs pages through every document of userID, calling fn with each hit's id and
// stored fields.
func (c *CaptionIndex) userDocs(userID string, fields []string, fn func(id string, stored map[string]interface{})) error {
	for from := 0; ; from += pageSize {
		req := bleve.NewSearchRequestOptions(userQuery(userID), pageSize, from, false)
		req.Fields = fields
		res, err := c.index.Search(req)
		if err != nil {
			return fmt.Errorf("list captions of user %s: %w", userID, err)
		}
		for _, h := range res.Hits {
			fn(h.ID, h.Fields)
		}
		if len(res.Hits) < pageSize {
			return nil
		}
	}
}

func (c *CaptionIndex) userDocIDs(userID string) ([]string, error) {
	var ids []string
	err := c.userDocs(userID, nil, func(id string, _ map[string]interface{}) {
		ids = append(ids, id)
	})
	return ids, err
}

// Dictionary builds a spelling dictionary from userID's captions only, so suggestions
// never reveal another user's words.
func (c *CaptionIndex) Dictionary(userID string) (*Dictionary, error) {
	d := NewDictionary()
	err := c.userDocs(userID, []string{fieldCaption}, func(_ string, stored map[string]interface{}) {
		caption, _ := stored[fieldCaption].(string)
		d.Add(caption)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// DocCount returns the number of indexed photos across all users.
func (c *CaptionIndex) DocCount() (uint64, error) {
	return c.index.DocCount()
}

// Close closes the index.
func (c *CaptionIndex) Close() error {
	return c.index.Close()
}
