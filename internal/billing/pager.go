package billing

import "context"

const DefaultPageSize = 100

type PageRequest struct {
	PageSize int
	// MaxPages caps the pages fetched; zero or less means no ceiling.
	MaxPages int
}

type PageStats struct {
	Pages     int
	Items     int
	Truncated bool
}

// Paginate walks a cursor-paginated list until the provider reports no more pages or the page
// ceiling is hit. Hitting the ceiling while more pages exist sets Truncated rather than failing.
func Paginate[T any](
	ctx context.Context,
	req PageRequest,
	fetch func(ctx context.Context, params ListParams) (Page[T], error),
	visit func(item T) error,
) (PageStats, error) {
	var stats PageStats
	limit := req.PageSize
	if limit <= 0 {
		limit = DefaultPageSize
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		page, err := fetch(ctx, ListParams{Limit: limit, StartingAfter: cursor})
		if err != nil {
			return stats, err
		}
		stats.Pages++

		for _, item := range page.Data {
			if err := visit(item); err != nil {
				return stats, err
			}
			stats.Items++
		}

		if !page.HasMore {
			return stats, nil
		}
		if req.MaxPages > 0 && stats.Pages >= req.MaxPages {
			stats.Truncated = true
			return stats, nil
		}
		if page.Cursor == "" || page.Cursor == cursor {
			return stats, ErrPaginationStalled
		}
		cursor = page.Cursor
	}
}
