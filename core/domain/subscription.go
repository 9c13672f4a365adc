// ABOUTME: Result model for adding feed subscriptions in bulk
// ABOUTME: Records per-URL success and failure so one bad URL never fails the batch

package domain

// AddFeedsResult summarizes a bulk subscription attempt
type AddFeedsResult struct {
	Feeds           []*Feed           `json:"feeds"`
	SuccessfulCount int               `json:"successfulCount"`
	FailedCount     int               `json:"failedCount"`
	FailedURLs      []string          `json:"failedUrls"`
	Errors          map[string]string `json:"errors,omitempty"`
}

// AddFailure records a URL that could not be added
func (r *AddFeedsResult) AddFailure(url string, err error) {
	r.FailedURLs = append(r.FailedURLs, url)
	r.FailedCount++
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	if err != nil {
		r.Errors[url] = err.Error()
	}
}

// AddSuccess records a feed that was added
func (r *AddFeedsResult) AddSuccess(feed *Feed) {
	r.Feeds = append(r.Feeds, feed)
	r.SuccessfulCount++
}
