package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Syam916/chitrasethu-sub002/internal/bus"
	"github.com/Syam916/chitrasethu-sub002/internal/store"
)

func TestDecodeNewMessage(t *testing.T) {
	raw := []byte(`{"event":"new_message","data":{
		"id":"501","conversationId":"conv_3_9","senderId":"9","receiverId":"3",
		"text":"hello","messageType":"text","createdAt":1700000000000}}`)

	evt, err := decodeFrame(raw, time.UnixMilli(0))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != bus.KindPushMessage {
		t.Fatalf("kind = %q, want %q", evt.Kind, bus.KindPushMessage)
	}
	msg, ok := evt.Payload.(*store.Message)
	if !ok {
		t.Fatalf("payload type = %T", evt.Payload)
	}
	if msg.ID != "501" || msg.ConversationID != "conv_3_9" || msg.Text != "hello" {
		t.Errorf("message = %+v", msg)
	}
	if msg.SendState != store.SendStateSent {
		t.Errorf("send state = %q, want sent", msg.SendState)
	}
}

func TestDecodeTypingFrames(t *testing.T) {
	start := []byte(`{"event":"user_typing","data":{"conversationId":"conv_3_9","userId":"9","userName":"Priya"}}`)
	evt, err := decodeFrame(start, time.UnixMilli(0))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != bus.KindPushTyping {
		t.Errorf("kind = %q, want %q", evt.Kind, bus.KindPushTyping)
	}
	sig := evt.Payload.(bus.TypingSignal)
	if sig.UserID != "9" || sig.UserName != "Priya" {
		t.Errorf("signal = %+v", sig)
	}

	stop := []byte(`{"event":"user_stopped_typing","data":{"conversationId":"conv_3_9","userId":"9"}}`)
	evt, err = decodeFrame(stop, time.UnixMilli(0))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != bus.KindPushTypingStopped {
		t.Errorf("kind = %q, want %q", evt.Kind, bus.KindPushTypingStopped)
	}
}

func TestDecodeMessageRead(t *testing.T) {
	raw := []byte(`{"event":"message_read","data":{"conversationId":"conv_3_9","readerId":"9"}}`)
	evt, err := decodeFrame(raw, time.UnixMilli(0))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != bus.KindPushMessageRead {
		t.Fatalf("kind = %q", evt.Kind)
	}
	sig := evt.Payload.(bus.ReadSignal)
	if sig.ReaderID != "9" {
		t.Errorf("signal = %+v", sig)
	}
}

func TestDecodePresenceFrames(t *testing.T) {
	online := []byte(`{"event":"user_online","data":{"userId":"9"}}`)
	evt, err := decodeFrame(online, time.UnixMilli(0))
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != bus.KindPushPresence {
		t.Fatalf("kind = %q, want %q", evt.Kind, bus.KindPushPresence)
	}
	sig := evt.Payload.(bus.PresenceSignal)
	if sig.UserID != "9" || !sig.Online {
		t.Errorf("signal = %+v, want 9 online", sig)
	}

	offline := []byte(`{"event":"user_offline","data":{"userId":"9"}}`)
	evt, err = decodeFrame(offline, time.UnixMilli(0))
	if err != nil {
		t.Fatal(err)
	}
	sig = evt.Payload.(bus.PresenceSignal)
	if sig.Online {
		t.Error("offline frame decoded as online")
	}
}

func TestDecodeUnknownEventSkipped(t *testing.T) {
	evt, err := decodeFrame([]byte(`{"event":"call_offer","data":{}}`), time.UnixMilli(0))
	if err != nil {
		t.Fatal(err)
	}
	if evt != nil {
		t.Errorf("event = %+v, want nil for unknown frame", evt)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	if _, err := decodeFrame([]byte(`{"event":"new_message","data":"nope"}`), time.UnixMilli(0)); err == nil {
		t.Error("malformed payload did not error")
	}
	if _, err := decodeFrame([]byte(`not json`), time.UnixMilli(0)); err == nil {
		t.Error("malformed envelope did not error")
	}
}

func TestEncodeCommandFrames(t *testing.T) {
	raw, err := encodeFrame(cmdJoin, wireRoom{ConversationID: "conv_3_9"})
	if err != nil {
		t.Fatal(err)
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatal(err)
	}
	if f.Event != "join_conversation" {
		t.Errorf("event = %q", f.Event)
	}
	var room wireRoom
	if err := json.Unmarshal(f.Data, &room); err != nil {
		t.Fatal(err)
	}
	if room.ConversationID != "conv_3_9" {
		t.Errorf("conversation = %q", room.ConversationID)
	}
}
