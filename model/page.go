package model

// Page is one slice of a cursor-paginated listing. An empty NextPageToken ends the listing.
type Page[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"next_page_token,omitempty"`
}
