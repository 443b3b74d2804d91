package telegram

import (
	"codedrop/internal/models"
)

// Attachment is the media extracted from a message. Kind is empty when the
// message carries nothing the broker stores.
type Attachment struct {
	Kind    models.FileKind
	FileRef string
	Caption string
}

// Attachment picks the stored media of a message. Precedence is
// document, video, audio, photo; the first present wins.
func (m *Message) Attachment() (Attachment, bool) {
	if m == nil {
		return Attachment{}, false
	}
	switch {
	case m.Document != nil && m.Document.FileID != "":
		return Attachment{Kind: models.KindDocument, FileRef: m.Document.FileID, Caption: m.Caption}, true
	case m.Video != nil && m.Video.FileID != "":
		return Attachment{Kind: models.KindVideo, FileRef: m.Video.FileID, Caption: m.Caption}, true
	case m.Audio != nil && m.Audio.FileID != "":
		return Attachment{Kind: models.KindAudio, FileRef: m.Audio.FileID, Caption: m.Caption}, true
	}
	if best, ok := largestPhoto(m.Photo); ok {
		return Attachment{Kind: models.KindPhoto, FileRef: best.FileID, Caption: m.Caption}, true
	}
	return Attachment{}, false
}

// largestPhoto returns the highest-resolution variant. Ties go to the later
// entry since the platform lists sizes smallest first.
func largestPhoto(sizes []PhotoSize) (PhotoSize, bool) {
	var (
		best  PhotoSize
		found bool
	)
	for _, p := range sizes {
		if p.FileID == "" {
			continue
		}
		if !found || p.Width*p.Height >= best.Width*best.Height {
			best = p
			found = true
		}
	}
	return best, found
}

// SendMethod returns the Bot API method that delivers a stored kind.
func SendMethod(kind models.FileKind) string {
	switch kind {
	case models.KindDocument:
		return "sendDocument"
	case models.KindVideo:
		return "sendVideo"
	case models.KindAudio:
		return "sendAudio"
	case models.KindPhoto:
		return "sendPhoto"
	default:
		return "sendMessage"
	}
}
