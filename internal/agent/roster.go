package agent

import "github.com/KafClaw/butler/internal/policy"

// NewRoster builds one instance of every sub-agent.
func NewRoster(d Deps) map[Kind]SubAgent {
	return map[Kind]SubAgent{
		KindTriage:            NewTriage(d),
		KindScheduler:         NewScheduler(d),
		KindCommunicator:      NewCommunicator(d),
		KindNavigator:         NewNavigator(d),
		KindPreferenceLearner: NewPreferenceLearner(d),
	}
}

// DefaultScopes are the tools each sub-agent kind may call.
func DefaultScopes() map[string]policy.Scope {
	return map[string]policy.Scope{
		string(KindTriage):            {Allow: []string{"search", "search_files", "read_file"}},
		string(KindScheduler):         {Allow: []string{"reminder_create", "search", "mcp__googlecalendar__*", "GOOGLECALENDAR_*"}},
		string(KindCommunicator):      {Allow: []string{"slack_send_message", "mcp__slack__*", "mcp__gmail__*", "GMAIL_*", "search"}},
		string(KindNavigator):         {Allow: []string{"search_files", "read_file", "list_dir"}},
		string(KindPreferenceLearner): {Allow: []string{"preference_save", "search"}},
	}
}
