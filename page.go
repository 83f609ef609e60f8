package cmlyst

import "time"

// dateTimeLayout is the textual datetime format persisted in the posts
// table. Values are stored in UTC and converted to the site time zone
// when read back.
const dateTimeLayout = "2006-01-02 15:04:05"

// Page is a stored page or post. ID and UUID are both stable: the id
// is assigned by the store on first save, the UUID by the engine, and
// neither changes when the page is later updated through its path.
type Page struct {
	ID            int64
	UUID          string
	Path          string
	Title         string
	Content       string
	HTML          string
	AuthorID      int64
	Author        User
	IsPage        bool
	AllowComments bool
	Created       time.Time
	Updated       time.Time
	Published     time.Time
}

func parseDateTime(value string, loc *time.Location) time.Time {
	t, err := time.ParseInLocation(dateTimeLayout, value, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t.In(loc)
}

func formatDateTime(t time.Time) string {
	return t.UTC().Format(dateTimeLayout)
}
