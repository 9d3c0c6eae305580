package whatsapp

import (
	"testing"
)

const textWebhook = `{
  "entry": [{
    "changes": [{
      "value": {
        "messages": [{
          "from": "237650000001",
          "id": "wamid.abc",
          "timestamp": "1724932800",
          "type": "text",
          "text": {"body": "envoie 500 à Marie"}
        }]
      }
    }]
  }]
}`

const audioWebhook = `{
  "entry": [{
    "changes": [{
      "value": {
        "messages": [{
          "from": "237650000001",
          "id": "wamid.def",
          "timestamp": "1724932860",
          "type": "audio",
          "audio": {"id": "media-123", "mime_type": "audio/ogg"}
        }]
      }
    }]
  }]
}`

func TestParseWebhookTextMessage(t *testing.T) {
	t.Parallel()

	msgs, err := ParseWebhook([]byte(textWebhook))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.UserID != "237650000001" || msg.MessageID != "wamid.abc" {
		t.Fatalf("unexpected identity: %+v", msg)
	}
	if msg.Turn != 1724932800 {
		t.Fatalf("expected turn from provider timestamp, got %d", msg.Turn)
	}
	if msg.Text != "envoie 500 à Marie" || msg.AudioID != "" {
		t.Fatalf("unexpected content: %+v", msg)
	}
}

func TestParseWebhookAudioMessage(t *testing.T) {
	t.Parallel()

	msgs, err := ParseWebhook([]byte(audioWebhook))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	if msgs[0].AudioID != "media-123" || msgs[0].Text != "" {
		t.Fatalf("unexpected content: %+v", msgs[0])
	}
}

func TestParseWebhookSkipsUnhandledTypes(t *testing.T) {
	t.Parallel()

	body := `{"entry": [{"changes": [{"value": {"messages": [
		{"from": "237650000001", "id": "a", "timestamp": "1724932800", "type": "sticker"},
		{"from": "237650000001", "id": "b", "timestamp": "notanumber", "type": "text", "text": {"body": "hi"}},
		{"from": "237650000001", "id": "c", "timestamp": "1724932900", "type": "text", "text": {"body": "hello"}}
	]}}]}]}`

	msgs, err := ParseWebhook([]byte(body))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != "c" {
		t.Fatalf("expected only the valid text message, got %+v", msgs)
	}
}

func TestParseWebhookRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	if _, err := ParseWebhook([]byte(`{broken`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
