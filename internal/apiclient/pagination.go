package apiclient

import "context"

// PageFunc fetches the page starting at offset. It reports how many items the
// page held, the total the server reported (negative when unknown), and
// whether the caller has seen enough.
type PageFunc func(ctx context.Context, limit, offset int) (received, total int, stop bool, err error)

// Paginate walks pages of size limit until fetch asks to stop, a short page
// arrives, or the reported total has been reached. It returns the number of
// page requests issued.
func Paginate(ctx context.Context, limit int, fetch PageFunc) (int, error) {
	pages := 0
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		received, total, stop, err := fetch(ctx, limit, offset)
		pages++
		if err != nil {
			return pages, err
		}
		offset += received

		if stop || received < limit {
			return pages, nil
		}
		if total >= 0 && offset >= total {
			return pages, nil
		}
	}
}
