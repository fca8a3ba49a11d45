package uimessage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func decodeMessages(t *testing.T, raw string) []UIMessage {
	t.Helper()
	var msgs []UIMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msgs
}

func TestPart_ToolHelpers(t *testing.T) {
	tests := []struct {
		part      Part
		tool      string
		isTool    bool
		completed bool
	}{
		{Part{Type: "tool-webSearch", State: StateOutputAvailable}, "webSearch", true, true},
		{Part{Type: "tool-createTable", State: StateInputStreaming}, "createTable", true, false},
		{Part{Type: PartDynamicTool, ToolName: "mcp_fetch", State: StateOutputError}, "mcp_fetch", true, true},
		{Part{Type: PartText, Text: "hi"}, "", false, false},
		{Part{Type: "data-usage"}, "", false, false},
	}
	for _, tt := range tests {
		if got := tt.part.IsToolPart(); got != tt.isTool {
			t.Errorf("%s: IsToolPart = %v", tt.part.Type, got)
		}
		if got := tt.part.Tool(); got != tt.tool {
			t.Errorf("%s: Tool = %q", tt.part.Type, got)
		}
		if got := tt.part.IsCompleted(); got != tt.completed {
			t.Errorf("%s: IsCompleted = %v", tt.part.Type, got)
		}
	}
}

func TestConvertToModelMessages(t *testing.T) {
	msgs := decodeMessages(t, `[
	  {"id":"s","role":"system","parts":[{"type":"text","text":"Be brief."}]},
	  {"id":"u1","role":"user","parts":[
	    {"type":"text","text":"What is in this file?"},
	    {"type":"file","mediaType":"application/pdf","url":"data:application/pdf;base64,JVBERi0=","filename":"a.pdf"}
	  ]},
	  {"id":"a1","role":"assistant","parts":[
	    {"type":"step-start"},
	    {"type":"reasoning","text":"thinking"},
	    {"type":"text","text":"Let me search."},
	    {"type":"tool-webSearch","toolCallId":"call_1","state":"output-available",
	     "input":{ "query" : "go" },"output":{"hits":3}},
	    {"type":"tool-createTable","toolCallId":"call_2","state":"input-available","input":{}},
	    {"type":"dynamic-tool","toolName":"fetch","toolCallId":"call_3","state":"output-error","errorText":"timeout"},
	    {"type":"source-url","sourceId":"x","url":"https://go.dev"}
	  ]},
	  {"id":"a2","role":"assistant","parts":[{"type":"step-start"}]},
	  {"id":"u2","role":"user","parts":[{"type":"text","text":"thanks"},{"type":"data-note","data":{}}]}
	]`)

	got, err := ConvertToModelMessages(msgs)
	if err != nil {
		t.Fatalf("ConvertToModelMessages: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(got), got)
	}

	if got[0].Role != "system" || got[0].Content != "Be brief." {
		t.Errorf("system = %+v", got[0])
	}

	user := got[1]
	if user.Content != "What is in this file?" || len(user.Files) != 1 {
		t.Fatalf("user = %+v", user)
	}
	if f := user.Files[0]; f.MediaType != "application/pdf" || f.Filename != "a.pdf" {
		t.Errorf("file = %+v", f)
	}

	wantAssistant := "Let me search.\n\n" +
		`[tool webSearch call_1] input={"query":"go"} output={"hits":3}` + "\n\n" +
		"[tool fetch call_3] error=timeout"
	if got[2].Role != "assistant" || got[2].Content != wantAssistant {
		t.Errorf("assistant content =\n%s\nwant\n%s", got[2].Content, wantAssistant)
	}

	if got[3].Content != "thanks" {
		t.Errorf("last = %+v", got[3])
	}
}

func TestConvertToModelMessages_UnknownRole(t *testing.T) {
	_, err := ConvertToModelMessages([]UIMessage{{ID: "x", Role: "tool"}})
	if err == nil || !strings.Contains(err.Error(), `unsupported role "tool"`) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestStreamWriter(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	sw := NewStreamWriter(bw)

	_ = sw.Start("msg_1")
	_ = sw.StartStep()
	_ = sw.TextStart("t1")
	_ = sw.TextDelta("t1", "Hello ")
	_ = sw.TextDelta("t1", "world")
	_ = sw.TextEnd("t1")
	_ = sw.FinishStep()
	_ = sw.Finish("stop")
	if err := sw.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}

	want := strings.Join([]string{
		`data: {"type":"start","messageId":"msg_1"}`,
		`data: {"type":"start-step"}`,
		`data: {"type":"text-start","id":"t1"}`,
		`data: {"type":"text-delta","id":"t1","delta":"Hello "}`,
		`data: {"type":"text-delta","id":"t1","delta":"world"}`,
		`data: {"type":"text-end","id":"t1"}`,
		`data: {"type":"finish-step"}`,
		`data: {"type":"finish","finishReason":"stop"}`,
		`data: [DONE]`,
	}, "\n\n") + "\n\n"

	if buf.String() != want {
		t.Errorf("stream =\n%s\nwant\n%s", buf.String(), want)
	}

	if err := sw.Error("late"); err == nil {
		t.Error("writes after Done must fail")
	}
}

func TestStreamWriter_Error(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamWriter(bufio.NewWriter(&buf))
	_ = sw.Error(`Model "x" from provider "y" not found.`)

	if !strings.Contains(buf.String(), `"type":"error","errorText":"Model \"x\" from provider \"y\" not found."`) {
		t.Errorf("unexpected output %s", buf.String())
	}
}

func collect(ch <-chan string) []string {
	var out []string
	for s := range ch {
		out = append(out, s)
	}
	return out
}

func TestSmoothWords(t *testing.T) {
	in := make(chan string, 8)
	for _, d := range []string{"Hel", "lo wor", "ld,  how", " are", " you?"} {
		in <- d
	}
	close(in)

	got := collect(SmoothWords(context.Background(), in, 0))
	want := []string{"Hello ", "world,  ", "how ", "are ", "you?"}

	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("chunks = %q, want %q", got, want)
	}
}

func TestSmoothWords_TrailingWhitespace(t *testing.T) {
	in := make(chan string, 2)
	in <- "done "
	in <- "\n"
	close(in)

	got := collect(SmoothWords(context.Background(), in, 0))
	if strings.Join(got, "|") != "done |\n" {
		t.Errorf("chunks = %q", got)
	}
}

func TestSmoothWords_EmitsWithoutWaitingForNextWord(t *testing.T) {
	in := make(chan string)
	out := SmoothWords(context.Background(), in, 0)
	defer close(in)

	in <- "Hello "
	select {
	case got := <-out:
		if got != "Hello " {
			t.Errorf("chunk = %q, want %q", got, "Hello ")
		}
	case <-time.After(time.Second):
		t.Fatal("finished word held back while upstream is idle")
	}
}

func TestSmoothWords_UnicodeWhitespace(t *testing.T) {
	in := make(chan string, 1)
	in <- "a\u00a0b\u3000c "
	close(in)

	got := collect(SmoothWords(context.Background(), in, 0))
	want := []string{"a\u00a0", "b\u3000", "c "}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("chunks = %q, want %q", got, want)
	}
}

func TestSmoothWords_Delay(t *testing.T) {
	in := make(chan string, 1)
	in <- "a b c"
	close(in)

	start := time.Now()
	got := collect(SmoothWords(context.Background(), in, 5*time.Millisecond))
	if len(got) != 3 {
		t.Fatalf("chunks = %q", got)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("expected pacing between chunks, took %v", elapsed)
	}
}

func TestSmoothWords_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan string)
	out := SmoothWords(ctx, in, 0)

	cancel()
	close(in)

	for range out {
	}
}
