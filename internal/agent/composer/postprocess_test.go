package composer

import (
	"strings"
	"testing"

	"github.com/parleyio/parley/internal/agent"
	"github.com/parleyio/parley/pkg/provider/llm"
	llmmock "github.com/parleyio/parley/pkg/provider/llm/mock"
)

func TestPostprocessPolicyMerge(t *testing.T) {
	t.Parallel()

	c := NewComposer(&llmmock.Provider{}, WithPolicies([]PolicyPack{
		{
			Match:  PolicyMatch{SourceServers: []string{"*"}},
			Inject: PolicyInject{PrependSystemMessage: "  Always answer briefly.  "},
		},
		{
			Match: PolicyMatch{SourceServers: []string{"notionApi"}},
			Inject: PolicyInject{AppendSystemMessage: []string{
				"Save notes under the shared parent page.   ",
				"",
				"Never delete pages.",
			}},
		},
		{
			Match:  PolicyMatch{SourceServers: []string{"github"}},
			Inject: PolicyInject{PrependSystemMessage: "Should not appear."},
		},
	}))

	composed := agent.Definitions{Agents: []agent.Definition{{
		Name:          "notion_pages",
		SystemMessage: "You manage pages. Use args_schema to repair failed calls and retry once.",
		SourceServer:  "notionApi",
	}}}
	got := c.postprocess("notionApi", nil, composed, true)

	want := "Always answer briefly.\n\n" +
		"You manage pages. Use args_schema to repair failed calls and retry once.\n\n" +
		"Save notes under the shared parent page.\nNever delete pages."
	if got.Agents[0].SystemMessage != want {
		t.Errorf("merged system message:\n got %q\nwant %q", got.Agents[0].SystemMessage, want)
	}
}

func TestPostprocessAppendsSchemaRepairRule(t *testing.T) {
	t.Parallel()

	c := NewComposer(&llmmock.Provider{})
	composed := agent.Definitions{Agents: []agent.Definition{{
		Name:          "notion_pages",
		SystemMessage: "You manage Notion pages.",
		SourceServer:  "notionApi",
	}}}

	got := c.postprocess("notionApi", nil, composed, true)
	msg := got.Agents[0].SystemMessage
	if !strings.HasSuffix(msg, schemaRepairRule) {
		t.Errorf("system message missing the schema-repair rule: %q", msg)
	}
	if !strings.HasPrefix(msg, "You manage Notion pages.") {
		t.Errorf("original message not preserved: %q", msg)
	}
}

func TestPostprocessCoverage(t *testing.T) {
	t.Parallel()

	c := NewComposer(&llmmock.Provider{})
	catalogue := []llm.ToolDefinition{
		toolDef("notionApi_API-post-page", "Create a page", "notionApi"),
		toolDef("notionApi_API-post-search", "Search", "notionApi"),
		toolDef("notionApi_API-get-users", "Users", "notionApi"),
	}
	composed := agent.Definitions{Agents: []agent.Definition{
		{
			Name:          "notion_pages",
			SystemMessage: "Pages. args_schema repair, retry once.",
			Tools:         []string{"notionApi_API-post-page"},
			SourceServer:  "notionApi",
		},
		{
			Name:          "notion_search",
			SystemMessage: "Search. args_schema repair, retry once.",
			Tools:         []string{"notionApi_API-post-search"},
			SourceServer:  "notionApi",
		},
	}}

	got := c.postprocess("notionApi", catalogue, composed, true)

	first := got.Agents[0].Tools
	if len(first) != 2 || first[1] != "notionApi_API-get-users" {
		t.Errorf("first agent tools = %v, want missing tool appended", first)
	}
	if len(got.Agents[1].Tools) != 1 {
		t.Errorf("second agent tools = %v, want untouched", got.Agents[1].Tools)
	}
}

func TestPostprocessNormalizesAgents(t *testing.T) {
	t.Parallel()

	c := NewComposer(&llmmock.Provider{})
	composed := agent.Definitions{Agents: []agent.Definition{{
		Name:          "Notion Page-Editor",
		SystemMessage: "Edit pages. args_schema repair, retry once.",
	}}}

	got := c.postprocess("notionApi", nil, composed, true)
	if got.Agents[0].Name != "notion_page_editor" {
		t.Errorf("name = %q, want notion_page_editor", got.Agents[0].Name)
	}
	if got.Agents[0].SourceServer != "notionApi" {
		t.Errorf("source server = %q, want defaulted", got.Agents[0].SourceServer)
	}
}

func TestRenderPlaceholders(t *testing.T) {
	c := NewComposer(&llmmock.Provider{}, WithPlaceholders(map[string]string{
		"NOTES_PARENT_PAGE_ID": "page-123",
		"team_name":            "platform",
	}))

	t.Setenv("COMPOSER_TEST_REGION", "eu-west-1")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "exact key",
			in:   "Parent: {{NOTES_PARENT_PAGE_ID}}",
			want: "Parent: page-123",
		},
		{
			name: "lowercase key fallback",
			in:   "Team: {{TEAM_NAME}}",
			want: "Team: platform",
		},
		{
			name: "environment fallback",
			in:   "Region: {{COMPOSER_TEST_REGION}}",
			want: "Region: eu-west-1",
		},
		{
			name: "unresolved kept verbatim",
			in:   "Missing: {{NO_SUCH_KEY_HERE}}",
			want: "Missing: {{NO_SUCH_KEY_HERE}}",
		},
		{
			name: "lowercase markers ignored",
			in:   "Literal: {{not_a_key}}",
			want: "Literal: {{not_a_key}}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.renderPlaceholders(tt.in); got != tt.want {
				t.Errorf("renderPlaceholders(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPolicyPackMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		servers []string
		server  string
		want    bool
	}{
		{"wildcard", []string{"*"}, "anything", true},
		{"exact", []string{"notionApi", "github"}, "github", true},
		{"no match", []string{"notionApi"}, "github", false},
		{"empty", nil, "github", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := PolicyPack{Match: PolicyMatch{SourceServers: tt.servers}}
			if got := p.Matches(tt.server); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.server, got, tt.want)
			}
		})
	}
}
