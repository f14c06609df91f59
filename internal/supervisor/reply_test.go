package supervisor

import (
	"reflect"
	"testing"

	"github.com/parleyio/parley/pkg/provider/llm"
)

func TestParseReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    Reply
		ok      bool
	}{
		{
			name:    "plain object",
			content: `{"reply_text":"Saved.","status":"success","actions":["notesApi_create"]}`,
			want:    Reply{ReplyText: "Saved.", Status: StatusSuccess, Actions: []string{"notesApi_create"}},
			ok:      true,
		},
		{
			name:    "fenced json",
			content: "```json\n{\"reply_text\":\"Done.\",\"status\":\"success\",\"actions\":[]}\n```",
			want:    Reply{ReplyText: "Done.", Status: StatusSuccess, Actions: []string{}},
			ok:      true,
		},
		{
			name:    "prose around object",
			content: `Here is my reply: {"reply_text":"Hi.","status":"error","error_message":"tool unavailable","actions":[]} hope that helps`,
			want:    Reply{ReplyText: "Hi.", Status: StatusError, ErrorMessage: "tool unavailable", Actions: []string{}},
			ok:      true,
		},
		{
			name:    "unknown status defaults to success",
			content: `{"reply_text":"Hi.","status":"partial"}`,
			want:    Reply{ReplyText: "Hi.", Status: StatusSuccess, Actions: []string{}},
			ok:      true,
		},
		{
			name:    "missing actions becomes empty slice",
			content: `{"reply_text":"Hi.","status":"success"}`,
			want:    Reply{ReplyText: "Hi.", Status: StatusSuccess, Actions: []string{}},
			ok:      true,
		},
		{
			name:    "tts fields carried through",
			content: `{"reply_text":"Voici.","status":"success","actions":["tts"],"tts_file_path":"/tmp/speech-ab.mp3","tts_format":"mp3"}`,
			want: Reply{
				ReplyText: "Voici.", Status: StatusSuccess, Actions: []string{"tts"},
				TTSFilePath: "/tmp/speech-ab.mp3", TTSFormat: "mp3",
			},
			ok: true,
		},
		{
			name:    "empty reply_text fails",
			content: `{"reply_text":"  ","status":"success"}`,
			ok:      false,
		},
		{
			name:    "no json object fails",
			content: "All set, let me know if you need anything else.",
			ok:      false,
		},
		{
			name:    "malformed json fails",
			content: `{"reply_text": "unterminated`,
			ok:      false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseReply(tt.content)
			if ok != tt.ok {
				t.Fatalf("parseReply ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parseReply = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAssembleReplyText(t *testing.T) {
	t.Parallel()

	assistant := func(name, content string) llm.Message {
		return llm.Message{Role: llm.RoleAssistant, Name: name, Content: content}
	}
	toolMsg := func(name, content string) llm.Message {
		return llm.Message{Role: llm.RoleTool, Name: name, Content: content}
	}

	tests := []struct {
		name     string
		messages []llm.Message
		want     string
	}{
		{
			name: "supervisor answer wins over later agent answer",
			messages: []llm.Message{
				{Role: llm.RoleUser, Content: "hi"},
				assistant(supervisorName, "All set."),
				assistant("notes", "raw agent text"),
			},
			want: "All set.",
		},
		{
			name: "falls back to last agent answer",
			messages: []llm.Message{
				{Role: llm.RoleUser, Content: "hi"},
				assistant("notes", "First answer."),
				assistant("notes", "Second answer."),
			},
			want: "Second answer.",
		},
		{
			name: "tool messages never surface",
			messages: []llm.Message{
				{Role: llm.RoleUser, Content: "hi"},
				toolMsg("transfer_to_notes", "Successfully transferred to notes."),
				toolMsg(transferBackToolName, transferBackMessage),
			},
			want: "",
		},
		{
			name: "transfer-back assistant message is internal",
			messages: []llm.Message{
				{Role: llm.RoleUser, Content: "hi"},
				{
					Role: llm.RoleAssistant, Name: "notes", Content: "Transferring back to supervisor",
					ToolCalls: []llm.ToolCall{{ID: "c1", Name: transferBackToolName}},
				},
			},
			want: "",
		},
		{
			name: "blank supervisor content skipped",
			messages: []llm.Message{
				assistant(supervisorName, "   "),
				assistant("notes", "Agent answer."),
			},
			want: "Agent answer.",
		},
		{
			name:     "empty transcript",
			messages: nil,
			want:     "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := assembleReplyText(tt.messages); got != tt.want {
				t.Fatalf("assembleReplyText = %q, want %q", got, tt.want)
			}
		})
	}
}
