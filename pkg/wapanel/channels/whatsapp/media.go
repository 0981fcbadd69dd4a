// media.go handles media upload (for SendMedia) and encrypted media
// download (for inbound audio passed to the AI backend).
package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/wapanel/pkg/wapanel/channels"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// buildTextMessage wraps plain text in a whatsmeow message.
func buildTextMessage(text string) *waE2E.Message {
	return &waE2E.Message{
		Conversation: proto.String(text),
	}
}

// SendMedia uploads and sends a media message with an optional caption.
func (w *WhatsApp) SendMedia(ctx context.Context, to string, media *channels.MediaPayload, caption string) (*channels.SendReceipt, error) {
	if !w.connected.Load() {
		return nil, channels.ErrChannelDisconnected
	}

	jid, err := parseJID(to)
	if err != nil {
		return nil, fmt.Errorf("invalid JID %q: %w", to, err)
	}

	waMsg, err := w.buildMediaMessage(ctx, media, caption)
	if err != nil {
		return nil, fmt.Errorf("building media message: %w", err)
	}

	resp, err := w.client.SendMessage(ctx, jid, waMsg)
	if err != nil {
		w.errorCount.Add(1)
		return nil, fmt.Errorf("sending media: %w", err)
	}

	w.chats.Record(&channels.IncomingMessage{
		ID:        string(resp.ID),
		Channel:   "whatsapp",
		From:      w.getClientJID(),
		ChatID:    jid.String(),
		IsGroup:   jid.Server == types.GroupServer,
		FromMe:    true,
		Type:      media.Type,
		Content:   caption,
		Timestamp: resp.Timestamp,
		Media:     &channels.MediaInfo{Type: media.Type, MimeType: media.MimeType},
	})

	return &channels.SendReceipt{
		ID:        string(resp.ID),
		Timestamp: resp.Timestamp,
	}, nil
}

// buildMediaMessage uploads the media bytes and wraps the upload response
// in the appropriate message type.
func (w *WhatsApp) buildMediaMessage(ctx context.Context, media *channels.MediaPayload, caption string) (*waE2E.Message, error) {
	if len(media.Data) == 0 {
		return nil, fmt.Errorf("empty media payload")
	}

	mediaType, err := uploadTypeFor(media)
	if err != nil {
		return nil, err
	}

	up, err := w.client.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("uploading media: %w", err)
	}

	fileLength := uint64(len(media.Data))

	switch mediaType {
	case whatsmeow.MediaImage:
		return &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption:       proto.String(caption),
				Mimetype:      proto.String(media.MimeType),
				URL:           proto.String(up.URL),
				DirectPath:    proto.String(up.DirectPath),
				MediaKey:      up.MediaKey,
				FileEncSHA256: up.FileEncSHA256,
				FileSHA256:    up.FileSHA256,
				FileLength:    proto.Uint64(fileLength),
			},
		}, nil

	case whatsmeow.MediaVideo:
		return &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{
				Caption:       proto.String(caption),
				Mimetype:      proto.String(media.MimeType),
				URL:           proto.String(up.URL),
				DirectPath:    proto.String(up.DirectPath),
				MediaKey:      up.MediaKey,
				FileEncSHA256: up.FileEncSHA256,
				FileSHA256:    up.FileSHA256,
				FileLength:    proto.Uint64(fileLength),
			},
		}, nil

	case whatsmeow.MediaAudio:
		return &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				Mimetype:      proto.String(media.MimeType),
				URL:           proto.String(up.URL),
				DirectPath:    proto.String(up.DirectPath),
				MediaKey:      up.MediaKey,
				FileEncSHA256: up.FileEncSHA256,
				FileSHA256:    up.FileSHA256,
				FileLength:    proto.Uint64(fileLength),
			},
		}, nil

	default:
		return &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				Caption:       proto.String(caption),
				FileName:      proto.String(media.Filename),
				Mimetype:      proto.String(media.MimeType),
				URL:           proto.String(up.URL),
				DirectPath:    proto.String(up.DirectPath),
				MediaKey:      up.MediaKey,
				FileEncSHA256: up.FileEncSHA256,
				FileSHA256:    up.FileSHA256,
				FileLength:    proto.Uint64(fileLength),
			},
		}, nil
	}
}

// uploadTypeFor maps a payload's MIME type to the whatsmeow upload type.
func uploadTypeFor(media *channels.MediaPayload) (whatsmeow.MediaType, error) {
	switch {
	case strings.HasPrefix(media.MimeType, "image/"):
		return whatsmeow.MediaImage, nil
	case strings.HasPrefix(media.MimeType, "video/"):
		return whatsmeow.MediaVideo, nil
	case strings.HasPrefix(media.MimeType, "audio/"):
		return whatsmeow.MediaAudio, nil
	case media.MimeType != "":
		return whatsmeow.MediaDocument, nil
	default:
		return "", fmt.Errorf("media payload missing mime type")
	}
}

// DownloadMedia fetches and decrypts the media attached to an incoming
// message. Enforces the configured size ceiling.
func (w *WhatsApp) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil {
		return nil, "", fmt.Errorf("message has no media")
	}
	info := msg.Media

	maxBytes := uint64(w.cfg.MaxMediaSizeMB) * 1024 * 1024
	if info.FileSize > maxBytes {
		return nil, "", fmt.Errorf("media too large: %d bytes (limit %d MB)",
			info.FileSize, w.cfg.MaxMediaSizeMB)
	}

	mediaType, err := downloadTypeFor(info.Type)
	if err != nil {
		return nil, "", err
	}

	dlCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	data, err := w.client.DownloadMediaWithPath(dlCtx,
		info.DirectPath,
		info.FileEncSHA256,
		info.FileSHA256,
		info.MediaKey,
		int(info.FileSize),
		mediaType,
		"")
	if err != nil {
		w.errorCount.Add(1)
		return nil, "", fmt.Errorf("%w: %v", channels.ErrMediaDownloadFailed, err)
	}

	return data, info.MimeType, nil
}

// downloadTypeFor maps a message type to the whatsmeow media type.
func downloadTypeFor(t channels.MessageType) (whatsmeow.MediaType, error) {
	switch t {
	case channels.MessageImage:
		return whatsmeow.MediaImage, nil
	case channels.MessageAudio:
		return whatsmeow.MediaAudio, nil
	case channels.MessageVideo:
		return whatsmeow.MediaVideo, nil
	case channels.MessageDocument:
		return whatsmeow.MediaDocument, nil
	default:
		return "", channels.ErrMediaNotSupported
	}
}
