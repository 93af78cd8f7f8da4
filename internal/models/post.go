package models

import "time"

// Attachment is a media item referenced by a post.
type Attachment struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// ReactionTally holds per-post reaction counts. Both counts default to zero
// when reaction enrichment is not requested.
type ReactionTally struct {
	Likes   int `json:"likes"`
	Recasts int `json:"recasts"`
}

// PostRef identifies a post by author identity and upstream content hash.
type PostRef struct {
	Fid  uint64 `json:"fid"`
	Hash string `json:"hash"`
}

// Post is one normalized content item. The upstream-assigned content hash is
// authoritative; records arriving without one are discarded during decode.
type Post struct {
	Hash         string        `json:"hash"`
	ThreadRoot   string        `json:"thread_root"`
	Parent       *PostRef      `json:"parent,omitempty"`
	ParentPost   *Post         `json:"parent_post,omitempty"`
	AuthorFid    uint64        `json:"author_fid"`
	AuthorHandle string        `json:"author_handle,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Text         string        `json:"text"`
	Attachments  []Attachment  `json:"attachments,omitempty"`
	Embeds       []string      `json:"embeds,omitempty"`
	Reactions    ReactionTally `json:"reactions"`
}

// IsReply reports whether the post references a parent post.
func (p *Post) IsReply() bool {
	return p.Parent != nil
}

// Bundle is the batch-mode aggregation result: one profile and its posts in
// emission order.
type Bundle struct {
	Profile *Profile `json:"profile"`
	Posts   []*Post  `json:"posts"`
}
