package models

import "time"

// PublishDateSource records which stage of the cascade resolved the
// publish date, in priority order (see ExtractorCascade §4.3).
type PublishDateSource string

const (
	PublishDateJSONLD      PublishDateSource = "json-ld"
	PublishDateOpenGraph   PublishDateSource = "opengraph"
	PublishDateSecondary   PublishDateSource = "secondary-extractor"
	PublishDateUpstream    PublishDateSource = "upstream"
)

// ArticleRecord is one row per successfully extracted article. It only
// exists when the owning URLRecord has Status == StatusSuccess.
type ArticleRecord struct {
	ArticleID           int64
	NormalizedURL       string
	Source              string
	Headline            string
	Authors             []string
	PublishDate         *time.Time
	PublishDateSource   PublishDateSource
	PublishDateDiverged bool
	FullText            string
	WordCount           int
	ContentHash         string
	ExtractionTimestamp time.Time
}

// AuthorsJoined returns the semicolon-joined author list per the
// ArticleRecord wire format.
func (a *ArticleRecord) AuthorsJoined() string {
	out := ""
	for i, author := range a.Authors {
		if i > 0 {
			out += "; "
		}
		out += author
	}
	return out
}
