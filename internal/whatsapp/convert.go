package whatsapp

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"whatsapp-bridge/internal/session"
)

// ConvertMessage maps a whatsmeow message event onto the transport-neutral form.
func ConvertMessage(evt *events.Message) *session.RawMessage {
	info := evt.Info
	raw := &session.RawMessage{
		ID:        info.ID,
		Chat:      info.Chat.String(),
		Sender:    info.Sender.String(),
		PushName:  info.PushName,
		FromMe:    info.IsFromMe,
		IsGroup:   info.IsGroup || info.Chat.Server == types.GroupServer,
		Broadcast: info.Chat.Server == types.BroadcastServer,
		Notify:    !evt.IsEdit,
		Timestamp: info.Timestamp,
	}

	// Privacy-addressed chats carry the phone number in the alternate id.
	switch {
	case info.Sender.Server == types.DefaultUserServer:
		raw.RealSender = info.Sender.String()
	case info.SenderAlt.Server == types.DefaultUserServer:
		raw.RealSender = info.SenderAlt.String()
	}

	msg := evt.Message
	if msg == nil {
		return raw
	}
	raw.Text = msg.GetConversation()
	raw.ExtendedText = msg.GetExtendedTextMessage().GetText()
	raw.Media = mediaRefs(msg)
	return raw
}

func mediaRefs(msg *waE2E.Message) []*session.MediaRef {
	var refs []*session.MediaRef
	if img := msg.GetImageMessage(); img != nil {
		refs = append(refs, &session.MediaRef{
			Kind:     session.MediaImage,
			MimeType: img.GetMimetype(),
			Caption:  img.GetCaption(),
			Source:   img,
		})
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		refs = append(refs, &session.MediaRef{
			Kind:     session.MediaVideo,
			MimeType: vid.GetMimetype(),
			Caption:  vid.GetCaption(),
			Source:   vid,
		})
	}
	if aud := msg.GetAudioMessage(); aud != nil {
		refs = append(refs, &session.MediaRef{
			Kind:     session.MediaAudio,
			MimeType: aud.GetMimetype(),
			Source:   aud,
		})
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		refs = append(refs, &session.MediaRef{
			Kind:     session.MediaDocument,
			MimeType: doc.GetMimetype(),
			FileName: doc.GetFileName(),
			Caption:  doc.GetCaption(),
			Source:   doc,
		})
	}
	return refs
}
