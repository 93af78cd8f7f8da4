package hub

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/jonesrussell/castflow/internal/models"
)

// hubEpoch is the upstream's timestamp origin; message timestamps are seconds
// since this instant.
var hubEpoch = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// Envelope is the JSON wrapper every hub endpoint returns. An absent
// NextPageToken signals end-of-stream.
type Envelope struct {
	Messages      []Message `json:"messages"`
	NextPageToken string    `json:"nextPageToken,omitempty"`
}

// MessageType discriminates the polymorphic message shapes. The hub emits
// both symbolic and numeric tag variants; unknown tags decode to TypeUnknown
// and are skipped, never fatal.
type MessageType int

const (
	// TypeUnknown covers tags this service does not interpret.
	TypeUnknown MessageType = 0
	// TypePostAdd is a new post.
	TypePostAdd MessageType = 1
	// TypeReactionAdd is a like or recast on a post.
	TypeReactionAdd MessageType = 3
	// TypeProfileField is one profile attribute record.
	TypeProfileField MessageType = 11
)

// symbolic tag spellings observed on the wire.
var messageTypeNames = map[string]MessageType{
	"MESSAGE_TYPE_CAST_ADD":      TypePostAdd,
	"MESSAGE_TYPE_REACTION_ADD":  TypeReactionAdd,
	"MESSAGE_TYPE_USER_DATA_ADD": TypeProfileField,
}

// UnmarshalJSON accepts either the symbolic or the numeric tag variant.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*t = messageTypeNames[name]
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	switch MessageType(n) {
	case TypePostAdd, TypeReactionAdd, TypeProfileField:
		*t = MessageType(n)
	default:
		*t = TypeUnknown
	}
	return nil
}

// ProfileFieldTag identifies which profile attribute a TypeProfileField
// record carries.
type ProfileFieldTag int

const (
	// FieldUnknown covers attribute tags this service does not map.
	FieldUnknown ProfileFieldTag = 0
	// FieldAvatar is the avatar URL.
	FieldAvatar ProfileFieldTag = 1
	// FieldDisplayName is the display name.
	FieldDisplayName ProfileFieldTag = 2
	// FieldBio is the bio text.
	FieldBio ProfileFieldTag = 3
	// FieldHomepage is the homepage URL.
	FieldHomepage ProfileFieldTag = 5
	// FieldHandle is the registered handle.
	FieldHandle ProfileFieldTag = 6
	// FieldLocation is the free-form location.
	FieldLocation ProfileFieldTag = 7
	// FieldTwitter is a cross-referenced handle on X/Twitter.
	FieldTwitter ProfileFieldTag = 8
	// FieldGithub is a cross-referenced handle on GitHub.
	FieldGithub ProfileFieldTag = 9
)

var profileFieldNames = map[string]ProfileFieldTag{
	"USER_DATA_TYPE_PFP":      FieldAvatar,
	"USER_DATA_TYPE_DISPLAY":  FieldDisplayName,
	"USER_DATA_TYPE_BIO":      FieldBio,
	"USER_DATA_TYPE_URL":      FieldHomepage,
	"USER_DATA_TYPE_USERNAME": FieldHandle,
	"USER_DATA_TYPE_LOCATION": FieldLocation,
	"USER_DATA_TYPE_TWITTER":  FieldTwitter,
	"USER_DATA_TYPE_GITHUB":   FieldGithub,
}

// UnmarshalJSON accepts either the symbolic or the numeric tag variant.
func (t *ProfileFieldTag) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*t = profileFieldNames[name]
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	switch ProfileFieldTag(n) {
	case FieldAvatar, FieldDisplayName, FieldBio, FieldHomepage,
		FieldHandle, FieldLocation, FieldTwitter, FieldGithub:
		*t = ProfileFieldTag(n)
	default:
		*t = FieldUnknown
	}
	return nil
}

// Message is one hub record; the shape of Data varies by Data.Type.
type Message struct {
	Data *MessageData `json:"data"`
	Hash string       `json:"hash"`
}

// MessageData is the tagged union body of a Message.
type MessageData struct {
	Type         MessageType   `json:"type"`
	Fid          uint64        `json:"fid"`
	Timestamp    int64         `json:"timestamp"`
	UserDataBody *UserDataBody `json:"userDataBody,omitempty"`
	CastAddBody  *CastAddBody  `json:"castAddBody,omitempty"`
	ReactionBody *ReactionBody `json:"reactionBody,omitempty"`
}

// UserDataBody is one profile attribute record.
type UserDataBody struct {
	Type  ProfileFieldTag `json:"type"`
	Value string          `json:"value"`
}

// CastAddBody is the payload of a post record.
type CastAddBody struct {
	Text             string   `json:"text"`
	ParentCastID     *CastID  `json:"parentCastId,omitempty"`
	ParentURL        string   `json:"parentUrl,omitempty"`
	Embeds           []Embed  `json:"embeds,omitempty"`
	EmbedsDeprecated []string `json:"embedsDeprecated,omitempty"`
}

// CastID references a post by author identity and content hash.
type CastID struct {
	Fid  uint64 `json:"fid"`
	Hash string `json:"hash"`
}

// Embed is either a URL embed or a reference to another post; the legacy
// representation carried bare URL strings in EmbedsDeprecated instead.
type Embed struct {
	URL    string  `json:"url,omitempty"`
	CastID *CastID `json:"castId,omitempty"`
}

// ReactionBody is the payload of a reaction record.
type ReactionBody struct {
	Type         string  `json:"type"`
	TargetCastID *CastID `json:"targetCastId,omitempty"`
}

// Time converts the message timestamp from hub epoch seconds to UTC.
func (d *MessageData) Time() time.Time {
	return hubEpoch.Add(time.Duration(d.Timestamp) * time.Second)
}

// ToPost translates a post record into the domain model. The upstream hash is
// authoritative: records without one are rejected rather than substituted
// from content. Returns false for records that are not well-formed posts.
func (m *Message) ToPost() (*models.Post, bool) {
	if m.Data == nil || m.Data.Type != TypePostAdd || m.Data.CastAddBody == nil {
		return nil, false
	}
	if m.Hash == "" {
		return nil, false
	}

	body := m.Data.CastAddBody
	post := &models.Post{
		Hash:      m.Hash,
		AuthorFid: m.Data.Fid,
		Timestamp: m.Data.Time(),
		Text:      body.Text,
	}

	if body.ParentCastID != nil && body.ParentCastID.Hash != "" {
		post.Parent = &models.PostRef{
			Fid:  body.ParentCastID.Fid,
			Hash: body.ParentCastID.Hash,
		}
	}

	// Thread root: the parent channel URL when present, else the post itself.
	switch {
	case body.ParentURL != "":
		post.ThreadRoot = body.ParentURL
	case post.Parent != nil:
		post.ThreadRoot = post.Parent.Hash
	default:
		post.ThreadRoot = m.Hash
	}

	post.Embeds = mergeEmbeds(body)
	for _, u := range post.Embeds {
		post.Attachments = append(post.Attachments, models.Attachment{
			Kind: attachmentKind(u),
			URL:  u,
		})
	}

	return post, true
}

// mergeEmbeds deduplicates embed URLs across the legacy and current
// representations, preserving first-seen order.
func mergeEmbeds(body *CastAddBody) []string {
	var urls []string
	seen := make(map[string]bool)

	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	for _, e := range body.Embeds {
		add(e.URL)
	}
	for _, u := range body.EmbedsDeprecated {
		add(u)
	}
	return urls
}

// attachmentKind infers a media kind from the URL path extension.
func attachmentKind(rawURL string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	lower := strings.ToLower(u)
	switch {
	case hasAnySuffix(lower, ".png", ".jpg", ".jpeg", ".gif", ".webp"):
		return "image"
	case hasAnySuffix(lower, ".mp4", ".mov", ".webm", ".m3u8"):
		return "video"
	default:
		return "link"
	}
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

// DecodeEnvelope parses a hub response body, tolerating unknown message
// shapes inside the envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}
