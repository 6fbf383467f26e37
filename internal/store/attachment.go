package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// AttachmentKind discriminates the attachment variants.
type AttachmentKind string

const (
	AttachmentImage   AttachmentKind = "img"
	AttachmentVideo   AttachmentKind = "video"
	AttachmentAudio   AttachmentKind = "audio"
	AttachmentFile    AttachmentKind = "file"
	AttachmentPost    AttachmentKind = "post"
	AttachmentMeeting AttachmentKind = "meeting"
)

// ErrUnknownAttachment is returned for attachment payloads whose type is not
// one of the known kinds.
var ErrUnknownAttachment = errors.New("unknown attachment type")

// Attachment is a closed set of attachment variants. Only the types in this
// file implement it.
type Attachment interface {
	Kind() AttachmentKind
	attachment()
}

// Media fields shared by image, video and audio attachments.
type Media struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
	Size     int64  `json:"file_size,omitempty"`
	Unavail  bool   `json:"unavailable,omitempty"`
}

type ImageAttachment struct {
	Media
	Width   int  `json:"width,omitempty"`
	Height  int  `json:"height,omitempty"`
	Sticker bool `json:"sticker,omitempty"`
}

type VideoAttachment struct {
	Media
	Width    int `json:"width,omitempty"`
	Height   int `json:"height,omitempty"`
	Duration int `json:"duration,omitempty"`
}

type AudioAttachment struct {
	Media
	Duration  int  `json:"duration,omitempty"`
	VoiceNote bool `json:"voice_note,omitempty"`
}

type FileAttachment struct {
	Media
	FileName string `json:"file_name,omitempty"`
}

// PostAttachment is a shared social post (e.g. a LinkedIn post).
type PostAttachment struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url,omitempty"`
}

// MeetingAttachment is a video meeting invitation.
type MeetingAttachment struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	StartsAt string `json:"starts_at,omitempty"`
}

func (*ImageAttachment) Kind() AttachmentKind   { return AttachmentImage }
func (*VideoAttachment) Kind() AttachmentKind   { return AttachmentVideo }
func (*AudioAttachment) Kind() AttachmentKind   { return AttachmentAudio }
func (*FileAttachment) Kind() AttachmentKind    { return AttachmentFile }
func (*PostAttachment) Kind() AttachmentKind    { return AttachmentPost }
func (*MeetingAttachment) Kind() AttachmentKind { return AttachmentMeeting }

func (*ImageAttachment) attachment()   {}
func (*VideoAttachment) attachment()   {}
func (*AudioAttachment) attachment()   {}
func (*FileAttachment) attachment()    {}
func (*PostAttachment) attachment()    {}
func (*MeetingAttachment) attachment() {}

// kindAliases maps the type strings seen on the wire to a kind.
var kindAliases = map[string]AttachmentKind{
	"img":           AttachmentImage,
	"image":         AttachmentImage,
	"video":         AttachmentVideo,
	"audio":         AttachmentAudio,
	"file":          AttachmentFile,
	"post":          AttachmentPost,
	"linkedin_post": AttachmentPost,
	"meeting":       AttachmentMeeting,
	"video_meeting": AttachmentMeeting,
}

// DecodeAttachment parses one attachment payload into its variant.
func DecodeAttachment(raw []byte) (Attachment, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}

	var a Attachment
	switch kindAliases[env.Type] {
	case AttachmentImage:
		a = &ImageAttachment{}
	case AttachmentVideo:
		a = &VideoAttachment{}
	case AttachmentAudio:
		a = &AudioAttachment{}
	case AttachmentFile:
		a = &FileAttachment{}
	case AttachmentPost:
		a = &PostAttachment{}
	case AttachmentMeeting:
		a = &MeetingAttachment{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttachment, env.Type)
	}
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, fmt.Errorf("decode %s attachment: %w", env.Type, err)
	}
	return a, nil
}

// DecodeAttachments decodes every payload it can. Payloads that fail are
// skipped and reported in errs so the caller can log them.
func DecodeAttachments(raws []json.RawMessage) (out Attachments, errs []error) {
	out = Attachments{}
	for _, raw := range raws {
		a, err := DecodeAttachment(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, a)
	}
	return out, errs
}

// Attachments is the list stored in the messages.attachments column.
type Attachments []Attachment

// MarshalJSON writes each variant with its "type" discriminator.
func (as Attachments) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(as))
	for _, a := range as {
		fields, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(fields, &m); err != nil {
			return nil, err
		}
		m["type"], _ = json.Marshal(a.Kind())
		enc, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return json.Marshal(out)
}

// UnmarshalJSON is strict: an unknown variant is an error.
func (as *Attachments) UnmarshalJSON(b []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return err
	}
	decoded := make(Attachments, 0, len(raws))
	for _, raw := range raws {
		a, err := DecodeAttachment(raw)
		if err != nil {
			return err
		}
		decoded = append(decoded, a)
	}
	*as = decoded
	return nil
}

// Value implements driver.Valuer.
func (as Attachments) Value() (driver.Value, error) {
	if len(as) == 0 {
		return "[]", nil
	}
	b, err := as.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (as *Attachments) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*as = Attachments{}
		return nil
	case []byte:
		return as.UnmarshalJSON(v)
	case string:
		return as.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("attachments: unsupported source %T", src)
	}
}
