package twiml

import (
	"strings"
	"testing"
)

var testVoice = Voice{Name: "Polly.Amy", Language: "en-GB"}

// TestConversationDeterministic 相同输入必须渲染出逐字节相同的标记。
func TestConversationDeterministic(t *testing.T) {
	a := Conversation("It's sunny.", "Are you still there?", testVoice, "/voice")
	b := Conversation("It's sunny.", "Are you still there?", testVoice, "/voice")
	if a != b {
		t.Fatalf("rendering is not deterministic:\n%s\n%s", a, b)
	}
}

func TestConversationStructure(t *testing.T) {
	out := Conversation("It's sunny.", "I didn't catch that.", testVoice, "/voice")

	if !strings.HasPrefix(out, Header) {
		t.Fatalf("missing XML declaration: %s", out)
	}
	for _, want := range []string{
		`<Say voice="Polly.Amy" language="en-GB">It&#39;s sunny.</Say>`,
		`<Gather input="speech" speechTimeout="auto" speechModel="experimental_conversations" language="en-GB" action="/voice" method="POST">`,
		`<Redirect>/voice</Redirect>`,
		`I didn&#39;t catch that.`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

// TestConversationEscapesSpeech 生成文本里的标记字符必须被转义，不能破坏文档结构。
func TestConversationEscapesSpeech(t *testing.T) {
	out := Conversation(`a < b & "c"`, "still there?", testVoice, "/voice")
	if strings.Contains(out, `a < b`) {
		t.Fatalf("unescaped markup characters in:\n%s", out)
	}
	if !strings.Contains(out, "a &lt; b &amp;") {
		t.Fatalf("expected escaped text in:\n%s", out)
	}
}

func TestGoodbyeHangsUp(t *testing.T) {
	out := Goodbye("Thank you for calling. Goodbye.", testVoice)
	if !strings.Contains(out, "<Hangup></Hangup>") {
		t.Fatalf("missing Hangup verb in:\n%s", out)
	}
	if strings.Contains(out, "<Gather") {
		t.Fatalf("goodbye must not re-arm speech capture:\n%s", out)
	}
}

func TestSayOnly(t *testing.T) {
	out := SayOnly("Hello there.", testVoice)
	if !strings.Contains(out, `<Say voice="Polly.Amy" language="en-GB">Hello there.</Say>`) {
		t.Fatalf("unexpected markup:\n%s", out)
	}
	if strings.Contains(out, "<Gather") || strings.Contains(out, "<Record") {
		t.Fatalf("say-only response must carry no capture verbs:\n%s", out)
	}
}

func TestRecordPrompt(t *testing.T) {
	out := RecordPrompt("Please leave a message.", "No recording received.", testVoice,
		"/recording-callback", "/recording-status")

	for _, want := range []string{
		`action="/recording-callback"`,
		`maxLength="60"`,
		`playBeep="true"`,
		`recordingStatusCallback="/recording-status"`,
		"Please leave a message.",
		"No recording received.",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRecordReplyReArmsRecording(t *testing.T) {
	out := RecordReply("Here is my answer.", "Anything else?", testVoice, "/recording-callback")
	if !strings.Contains(out, "Here is my answer.") || !strings.Contains(out, "Anything else?") {
		t.Fatalf("missing spoken lines in:\n%s", out)
	}
	if !strings.Contains(out, `action="/recording-callback"`) || !strings.Contains(out, `playBeep="true"`) {
		t.Fatalf("missing re-armed Record verb in:\n%s", out)
	}
}
