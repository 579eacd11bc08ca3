package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/models"
	"github.com/maestro-ai/maestro/pkg/retrieval"
)

// CalendarProvider performs calendar side-effects on behalf of the user.
type CalendarProvider interface {
	ListEvents(ctx context.Context, tenantID uuid.UUID, userContext, args map[string]any) (map[string]any, error)
	CreateEvent(ctx context.Context, tenantID uuid.UUID, userContext, args map[string]any) (map[string]any, error)
	UpdateEvent(ctx context.Context, tenantID uuid.UUID, userContext, args map[string]any) (map[string]any, error)
	DeleteEvent(ctx context.Context, tenantID uuid.UUID, userContext, args map[string]any) (map[string]any, error)
}

// IntegrationClient queries a connected external provider.
type IntegrationClient interface {
	Search(ctx context.Context, provider, query string, tenantID uuid.UUID) (map[string]any, error)
}

// BuiltinDeps are the services the built-in handlers close over.
type BuiltinDeps struct {
	Searcher     retrieval.Searcher
	Web          retrieval.WebSearcher
	WebEnabled   bool
	WebTopK      int
	Delegator    *Delegator
	Calendar     CalendarProvider
	Integrations IntegrationClient
}

var objectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

func schema(s string) json.RawMessage { return json.RawMessage(s) }

// RegisterBuiltins populates the registry with the built-in catalog.
// Called exactly once at process start, before Seal.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	regs := []struct {
		def     Definition
		handler Handler
	}{
		// UI block tools: no handler, arguments pass through as payload.
		{Definition{
			Name: "chart", Category: CategoryBlock, BlockType: "chart",
			Description:  "Render a chart from labeled series data.",
			OpenAISchema: schema(`{"type":"object","properties":{"title":{"type":"string"},"chart_type":{"type":"string","enum":["bar","line","pie"]},"labels":{"type":"array","items":{"type":"string"}},"series":{"type":"array","items":{"type":"object"}}},"required":["chart_type","labels","series"]}`),
			MinProfile:   models.ProfileBalanced,
		}, nil},
		{Definition{
			Name: "table", Category: CategoryBlock, BlockType: "table",
			Description:  "Render a data table with named columns.",
			OpenAISchema: schema(`{"type":"object","properties":{"title":{"type":"string"},"columns":{"type":"array","items":{"type":"string"}},"rows":{"type":"array","items":{"type":"array"}}},"required":["columns","rows"]}`),
			MinProfile:   models.ProfileBalanced,
		}, nil},
		{Definition{
			Name: "summaryCard", Category: CategoryBlock, BlockType: "summaryCard",
			Description:  "Render a key-figures summary card.",
			OpenAISchema: schema(`{"type":"object","properties":{"title":{"type":"string"},"items":{"type":"array","items":{"type":"object","properties":{"label":{"type":"string"},"value":{"type":"string"}}}}},"required":["items"]}`),
			MinProfile:   models.ProfileBalanced,
		}, nil},
		{Definition{
			Name: "checklist", Category: CategoryBlock, BlockType: "checklist",
			Description:  "Render an actionable checklist.",
			OpenAISchema: schema(`{"type":"object","properties":{"title":{"type":"string"},"items":{"type":"array","items":{"type":"string"}}},"required":["items"]}`),
			MinProfile:   models.ProfileBalanced,
		}, nil},

		{Definition{
			Name: "createDocument", Category: CategoryBlock, BlockType: "document",
			Description:  "Create a document draft from the conversation.",
			OpenAISchema: schema(`{"type":"object","properties":{"title":{"type":"string"},"content":{"type":"string"}},"required":["title","content"]}`),
			MinProfile:   models.ProfileBalanced,
		}, createDocumentHandler},

		{Definition{
			Name: "compose_email", Category: CategoryEmail,
			Description:  "Compose an email draft for the user to review.",
			OpenAISchema: schema(`{"type":"object","properties":{"to":{"type":"array","items":{"type":"string"}},"subject":{"type":"string"},"body":{"type":"string"}},"required":["subject","body"]}`),
			MinProfile:   models.ProfileBalanced,
		}, composeEmailHandler},

		{Definition{
			Name: "search_documents", Category: CategoryRetrieval,
			Description:  "Search the assistant's document collections.",
			OpenAISchema: schema(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
			MinProfile:   models.ProfileReactive,
		}, searchDocumentsHandler(deps.Searcher)},

		{Definition{
			Name: "delegate_to_assistant", Category: CategoryDelegation,
			Description:    "Ask another assistant of this workspace a question.",
			OpenAISchema:   schema(`{"type":"object","properties":{"target_assistant_id":{"type":"string"},"question":{"type":"string"}},"required":["target_assistant_id","question"]}`),
			MinProfile:     models.ProfileBalanced,
			TimeoutSeconds: 60,
		}, delegationHandler(deps.Delegator)},

		{Definition{
			Name: "search_contacts", Category: CategoryIntegration, Provider: "gmail",
			Description:  "Search the user's contacts.",
			OpenAISchema: schema(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
			MinProfile:   models.ProfilePro,
		}, integrationHandler(deps.Integrations, "gmail")},
		{Definition{
			Name: "gmail_search", Category: CategoryIntegration, Provider: "gmail",
			Description:  "Search the user's Gmail messages.",
			OpenAISchema: schema(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
			MinProfile:   models.ProfilePro,
		}, integrationHandler(deps.Integrations, "gmail")},
		{Definition{
			Name: "slack_search", Category: CategoryIntegration, Provider: "slack",
			Description:  "Search the workspace's Slack messages.",
			OpenAISchema: schema(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
			MinProfile:   models.ProfilePro,
		}, integrationHandler(deps.Integrations, "slack")},
	}

	// Calendar tools share one handler shape.
	calendarTools := []struct {
		name string
		desc string
		call func(CalendarProvider) calendarCall
	}{
		{"list_calendar_events", "List the user's upcoming calendar events.", func(p CalendarProvider) calendarCall { return p.ListEvents }},
		{"create_calendar_event", "Create a calendar event.", func(p CalendarProvider) calendarCall { return p.CreateEvent }},
		{"update_calendar_event", "Update an existing calendar event.", func(p CalendarProvider) calendarCall { return p.UpdateEvent }},
		{"delete_calendar_event", "Delete a calendar event.", func(p CalendarProvider) calendarCall { return p.DeleteEvent }},
	}
	for _, ct := range calendarTools {
		regs = append(regs, struct {
			def     Definition
			handler Handler
		}{Definition{
			Name: ct.name, Category: CategoryCalendar,
			Description:  ct.desc,
			OpenAISchema: objectSchema,
			MinProfile:   models.ProfilePro,
		}, calendarHandler(deps.Calendar, ct.call)})
	}

	if deps.WebEnabled {
		regs = append(regs, struct {
			def     Definition
			handler Handler
		}{Definition{
			Name: "search_web", Category: CategoryRetrieval,
			Description:  "Search the public web for recent information.",
			OpenAISchema: schema(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
			MinProfile:   models.ProfileBalanced,
		}, searchWebHandler(deps.Web, deps.WebTopK)})
	}

	for _, reg := range regs {
		if err := r.Register(reg.def, reg.handler); err != nil {
			return err
		}
	}
	return nil
}

type calendarCall func(ctx context.Context, tenantID uuid.UUID, userContext, args map[string]any) (map[string]any, error)

func createDocumentHandler(ctx context.Context, inv Invocation) (Output, error) {
	title, _ := inv.Args["title"].(string)
	content, _ := inv.Args["content"].(string)
	if title == "" || content == "" {
		return nil, errors.New("createDocument requires title and content")
	}
	payload := map[string]any{
		"title":           title,
		"content":         content,
		"assistant_id":    inv.AssistantID.String(),
		"conversation_id": inv.ConversationID.String(),
	}
	if len(inv.Citations) > 0 {
		payload["citations"] = inv.Citations
	}
	return BlockOutput{ID: uuid.NewString(), Type: "document", Payload: payload}, nil
}

func composeEmailHandler(ctx context.Context, inv Invocation) (Output, error) {
	subject, _ := inv.Args["subject"].(string)
	body, _ := inv.Args["body"].(string)
	if subject == "" || body == "" {
		return nil, errors.New("compose_email requires subject and body")
	}
	payload := map[string]any{
		"to":              inv.Args["to"],
		"subject":         subject,
		"body":            body,
		"conversation_id": inv.ConversationID.String(),
	}
	if len(inv.Citations) > 0 {
		payload["citations"] = inv.Citations
	}
	return BlockOutput{ID: uuid.NewString(), Type: "email_draft", Payload: payload}, nil
}

func searchDocumentsHandler(searcher retrieval.Searcher) Handler {
	return func(ctx context.Context, inv Invocation) (Output, error) {
		if searcher == nil {
			return nil, errors.New("document search is not configured")
		}
		if inv.Query == "" {
			return nil, errors.New("search_documents requires a query")
		}
		chunks, err := searcher.Search(ctx, inv.TenantID, inv.CollectionIDs, inv.Query, 8)
		if err != nil {
			return nil, fmt.Errorf("document search failed: %v", err)
		}
		return ChunksOutput{Chunks: chunks}, nil
	}
}

func searchWebHandler(web retrieval.WebSearcher, topK int) Handler {
	return func(ctx context.Context, inv Invocation) (Output, error) {
		if web == nil {
			return nil, errors.New("web search is not configured")
		}
		if inv.Query == "" {
			return nil, errors.New("search_web requires a query")
		}
		results, err := web.SearchWeb(ctx, inv.Query, topK)
		if err != nil {
			return nil, fmt.Errorf("web search failed: %v", err)
		}
		return WebSearchOutput{Formatted: retrieval.FormatWebResults(results), Results: results}, nil
	}
}

func delegationHandler(delegator *Delegator) Handler {
	return func(ctx context.Context, inv Invocation) (Output, error) {
		if delegator == nil {
			return nil, errors.New("delegation is not configured")
		}
		return delegator.Handle(ctx, inv)
	}
}

func calendarHandler(provider CalendarProvider, pick func(CalendarProvider) calendarCall) Handler {
	return func(ctx context.Context, inv Invocation) (Output, error) {
		if provider == nil {
			return nil, errors.New("calendar is not configured")
		}
		data, err := pick(provider)(ctx, inv.TenantID, inv.UserContext, inv.Args)
		if err != nil {
			return nil, err
		}
		return CalendarOutput{Data: data}, nil
	}
}

func integrationHandler(client IntegrationClient, provider string) Handler {
	return func(ctx context.Context, inv Invocation) (Output, error) {
		if client == nil {
			return nil, fmt.Errorf("%s integration is not configured", provider)
		}
		data, err := client.Search(ctx, provider, inv.Query, inv.TenantID)
		if err != nil {
			return nil, err
		}
		return RawOutput{Data: data}, nil
	}
}
