// Package track is the ingest surface: loopback HTTP endpoints the browser
// capture script pushes tracked entities into. It owns token auth, JSON
// validation with field-path errors, and the translation from wire payloads
// to archive entities.
package track

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/dhtrack/archive"
	"github.com/hazyhaar/dhtrack/urlnorm"
)

// ValidationError names the offending field by its path in the payload.
type ValidationError struct {
	Path string
	Msg  string
}

func (e *ValidationError) Error() string {
	return e.Path + ": " + e.Msg
}

func invalid(path, format string, args ...any) error {
	return &ValidationError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// parseSnowflake parses a decimal-string id into a u64, attributing failures
// to path.
func parseSnowflake(path, s string) (uint64, error) {
	if s == "" {
		return 0, invalid(path, "required")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, invalid(path, "not a snowflake: %q", s)
	}
	return v, nil
}

func parseSnowflakePtr(path string, s *string) (*uint64, error) {
	if s == nil {
		return nil, nil
	}
	v, err := parseSnowflake(path, *s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// emojiFlagAnimated is the only emoji flag the wire carries today.
const emojiFlagAnimated = 1

// ---------- /track-channel ----------

type serverPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type channelPayload struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Parent   *string `json:"parent"`
	Position *int64  `json:"position"`
	Topic    *string `json:"topic"`
	NSFW     *bool   `json:"nsfw"`
}

type trackChannelPayload struct {
	Server  serverPayload  `json:"server"`
	Channel channelPayload `json:"channel"`
}

func (p *trackChannelPayload) toEntities() (archive.Server, archive.Channel, error) {
	serverID, err := parseSnowflake("server.id", p.Server.ID)
	if err != nil {
		return archive.Server{}, archive.Channel{}, err
	}
	if p.Server.Name == "" {
		return archive.Server{}, archive.Channel{}, invalid("server.name", "required")
	}
	var typ archive.ServerType
	switch strings.ToLower(p.Server.Type) {
	case "server":
		typ = archive.ServerTypeServer
	case "group":
		typ = archive.ServerTypeGroup
	case "dm":
		typ = archive.ServerTypeDM
	default:
		return archive.Server{}, archive.Channel{}, invalid("server.type", "unknown type %q", p.Server.Type)
	}

	channelID, err := parseSnowflake("channel.id", p.Channel.ID)
	if err != nil {
		return archive.Server{}, archive.Channel{}, err
	}
	if p.Channel.Name == "" {
		return archive.Server{}, archive.Channel{}, invalid("channel.name", "required")
	}
	parent, err := parseSnowflakePtr("channel.parent", p.Channel.Parent)
	if err != nil {
		return archive.Server{}, archive.Channel{}, err
	}

	server := archive.Server{ID: serverID, Name: p.Server.Name, Type: typ}
	channel := archive.Channel{
		ID:       channelID,
		ServerID: serverID,
		Name:     p.Channel.Name,
		ParentID: parent,
		Position: p.Channel.Position,
		Topic:    p.Channel.Topic,
		NSFW:     p.Channel.NSFW,
	}
	return server, channel, nil
}

// ---------- /track-users ----------

type userPayload struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Avatar        *string `json:"avatar"`
	Discriminator *string `json:"discriminator"`
}

func parseUsers(payload []userPayload) ([]archive.User, error) {
	users := make([]archive.User, 0, len(payload))
	for i, u := range payload {
		path := fmt.Sprintf("[%d]", i)
		id, err := parseSnowflake(path+".id", u.ID)
		if err != nil {
			return nil, err
		}
		if u.Name == "" {
			return nil, invalid(path+".name", "required")
		}
		users = append(users, archive.User{
			ID:            id,
			Name:          u.Name,
			AvatarURL:     u.Avatar,
			Discriminator: u.Discriminator,
		})
	}
	return users, nil
}

// ---------- /track-messages ----------

type attachmentPayload struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Type   *string `json:"type"`
	URL    string  `json:"url"`
	Size   *int64  `json:"size"`
	Width  *int64  `json:"width"`
	Height *int64  `json:"height"`
}

type reactionPayload struct {
	ID         *string `json:"id"`
	Name       *string `json:"name"`
	IsAnimated bool    `json:"isAnimated"`
	Count      *int64  `json:"count"`
}

type pollEmojiPayload struct {
	ID         *string `json:"id"`
	Name       *string `json:"name"`
	IsAnimated *bool   `json:"isAnimated"`
}

type pollAnswerPayload struct {
	ID    *int64            `json:"id"`
	Text  string            `json:"text"`
	Emoji *pollEmojiPayload `json:"emoji"`
}

type pollPayload struct {
	Question        string              `json:"question"`
	MultiSelect     *bool               `json:"multiSelect"`
	ExpiryTimestamp *int64              `json:"expiryTimestamp"`
	Answers         []pollAnswerPayload `json:"answers"`
}

type messagePayload struct {
	ID            string              `json:"id"`
	Sender        string              `json:"sender"`
	Channel       string              `json:"channel"`
	Text          *string             `json:"text"`
	Timestamp     *int64              `json:"timestamp"`
	EditTimestamp *int64              `json:"editTimestamp"`
	RepliedToID   *string             `json:"repliedToId"`
	Attachments   []attachmentPayload `json:"attachments"`
	Embeds        []string            `json:"embeds"`
	Reactions     []reactionPayload   `json:"reactions"`
	Poll          *pollPayload        `json:"poll"`
}

func (p *messagePayload) toEntity(path string) (archive.Message, error) {
	var m archive.Message
	var err error

	if m.ID, err = parseSnowflake(path+".id", p.ID); err != nil {
		return m, err
	}
	if m.Sender, err = parseSnowflake(path+".sender", p.Sender); err != nil {
		return m, err
	}
	if m.Channel, err = parseSnowflake(path+".channel", p.Channel); err != nil {
		return m, err
	}
	if p.Text == nil {
		return m, invalid(path+".text", "required")
	}
	m.Text = *p.Text
	if p.Timestamp == nil {
		return m, invalid(path+".timestamp", "required")
	}
	m.Timestamp = *p.Timestamp
	m.EditTimestamp = p.EditTimestamp
	if m.RepliedToID, err = parseSnowflakePtr(path+".repliedToId", p.RepliedToID); err != nil {
		return m, err
	}

	for i, a := range p.Attachments {
		apath := fmt.Sprintf("%s.attachments[%d]", path, i)
		att, err := a.toEntity(apath)
		if err != nil {
			return m, err
		}
		m.Attachments = append(m.Attachments, att)
	}

	for i, e := range p.Embeds {
		if !json.Valid([]byte(e)) {
			return m, invalid(fmt.Sprintf("%s.embeds[%d]", path, i), "not a JSON document")
		}
		m.Embeds = append(m.Embeds, e)
	}

	for i, re := range p.Reactions {
		rpath := fmt.Sprintf("%s.reactions[%d]", path, i)
		if re.ID == nil && re.Name == nil {
			return m, invalid(rpath, "needs an emoji id or name")
		}
		if re.Count == nil {
			return m, invalid(rpath+".count", "required")
		}
		emojiID, err := parseSnowflakePtr(rpath+".id", re.ID)
		if err != nil {
			return m, err
		}
		var flags int64
		if re.IsAnimated {
			flags = emojiFlagAnimated
		}
		m.Reactions = append(m.Reactions, archive.Reaction{
			EmojiID:    emojiID,
			EmojiName:  re.Name,
			EmojiFlags: flags,
			Count:      *re.Count,
		})
	}

	if p.Poll != nil {
		poll, err := p.Poll.toEntity(path + ".poll")
		if err != nil {
			return m, err
		}
		m.Poll = poll
	}
	return m, nil
}

func (a *attachmentPayload) toEntity(path string) (archive.Attachment, error) {
	var att archive.Attachment
	var err error

	if att.ID, err = parseSnowflake(path+".id", a.ID); err != nil {
		return att, err
	}
	if a.Name == "" {
		return att, invalid(path+".name", "required")
	}
	if a.URL == "" {
		return att, invalid(path+".url", "required")
	}
	if a.Size == nil {
		return att, invalid(path+".size", "required")
	}

	normalized, err := urlnorm.Normalize(a.URL)
	if err != nil {
		return att, invalid(path+".url", "%v", err)
	}

	att.Name = a.Name
	att.Type = a.Type
	att.NormalizedURL = normalized
	att.DownloadURL = a.URL
	att.Size = *a.Size
	att.Width = a.Width
	att.Height = a.Height
	return att, nil
}

func (p *pollPayload) toEntity(path string) (*archive.Poll, error) {
	if p.Question == "" {
		return nil, invalid(path+".question", "required")
	}
	if p.MultiSelect == nil {
		return nil, invalid(path+".multiSelect", "required")
	}
	if p.ExpiryTimestamp == nil {
		return nil, invalid(path+".expiryTimestamp", "required")
	}

	poll := &archive.Poll{
		Question:        p.Question,
		MultiSelect:     *p.MultiSelect,
		ExpiryTimestamp: *p.ExpiryTimestamp,
	}
	for i, ans := range p.Answers {
		apath := fmt.Sprintf("%s.answers[%d]", path, i)
		if ans.ID == nil {
			return nil, invalid(apath+".id", "required")
		}
		if ans.Text == "" {
			return nil, invalid(apath+".text", "required")
		}
		answer := archive.PollAnswer{AnswerID: *ans.ID, Text: ans.Text}
		if ans.Emoji != nil {
			emojiID, err := parseSnowflakePtr(apath+".emoji.id", ans.Emoji.ID)
			if err != nil {
				return nil, err
			}
			answer.EmojiID = emojiID
			answer.EmojiName = ans.Emoji.Name
			if ans.Emoji.IsAnimated != nil {
				flags := int64(0)
				if *ans.Emoji.IsAnimated {
					flags = emojiFlagAnimated
				}
				answer.EmojiFlags = &flags
			}
		}
		poll.Answers = append(poll.Answers, answer)
	}
	return poll, nil
}

func parseMessages(payload []messagePayload) ([]archive.Message, error) {
	messages := make([]archive.Message, 0, len(payload))
	for i, mp := range payload {
		m, err := mp.toEntity(fmt.Sprintf("[%d]", i))
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}
