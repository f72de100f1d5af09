package fetch

// MaxPagesPerWindow is the last-resort circuit breaker for one window's page
// loop. A healthy device never gets anywhere near it.
const MaxPagesPerWindow = 10000

// NextPosition decides the search result position for the next page, given
// what the current page returned. It returns ok=false when pagination is
// exhausted:
//   - nothing was returned,
//   - the reported total is known and already covered, or
//   - the total is unknown and the page came back short.
//
// Pure function; the page loop layers the non-advancing-position guard and
// the MaxPagesPerWindow ceiling on top.
func NextPosition(currentPosition, returned, totalMatches, pageSize int) (int, bool) {
	if returned <= 0 {
		return 0, false
	}
	next := currentPosition + returned
	if totalMatches > 0 && next > totalMatches {
		return 0, false
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if totalMatches <= 0 && returned < pageSize {
		return 0, false
	}
	return next, true
}
