package sbox

import (
	"context"
	"fmt"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/PolarWolf314/sbox/internal/storage"
)

// searchAll pages through every document in collectionID matching q and
// returns them in backend order. It stops once the reported offset+limit
// covers the total count, and fails with ErrPagination after MaxPages pages.
func (c *Client) searchAll(ctx context.Context, collectionID string, q storage.Query) ([]storage.Document, error) {
	q.Offset = 0
	q.Limit = c.opts.PageSize

	var out []storage.Document
	for pages := 0; pages < c.opts.MaxPages; pages++ {
		page, err := c.backend.Search(ctx, collectionID, q)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", collectionID, err)
		}
		out = append(out, page.Items...)

		if page.Offset+page.Limit >= page.TotalCount {
			return out, nil
		}
		q.Offset = page.Offset + page.Limit
	}
	return nil, fmt.Errorf("%w: %s still incomplete after %d pages", kerrors.ErrPagination, collectionID, c.opts.MaxPages)
}

// findOne returns the single document in collectionID whose index matches
// equals, along with the number of matches. The document is only set when
// exactly one matched.
func (c *Client) findOne(ctx context.Context, collectionID string, equals map[string]string) (storage.Document, int, error) {
	docs, err := c.searchAll(ctx, collectionID, storage.Query{Equals: equals})
	if err != nil {
		return storage.Document{}, 0, err
	}
	if len(docs) != 1 {
		return storage.Document{}, len(docs), nil
	}
	return docs[0], 1, nil
}
