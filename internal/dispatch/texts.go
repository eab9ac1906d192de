package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cmdpkg "github.com/stupiduntilnot/tgrelay/internal/commander"
	"github.com/stupiduntilnot/tgrelay/internal/model"
	"github.com/stupiduntilnot/tgrelay/internal/openai"
	"github.com/stupiduntilnot/tgrelay/internal/session"
	"github.com/stupiduntilnot/tgrelay/internal/stats"
)

const helpText = `🆘 Help Menu

Available commands:
/start - Start the bot
/help - Show this help menu
/reset - Clear conversation history
/model - Show or change the AI model
/model <fast|balanced|powerful> - Switch model directly
/stats - View bot statistics

How to use:
Simply send any message and I'll respond!

Examples:
• "What is quantum computing?"
• "Write a Go function to reverse a slice"
• "Mujhe AI ke baare mein batao"
• "Coding kaise seekhein?"

Supported languages:
🇬🇧 English
🇮🇳 Hindi (हिंदी)
🔄 Hinglish (Mix)

I remember the last %d exchanges of our conversation.`

func welcomeText(name string) string {
	greeting := "👋 Namaste!"
	if name != "" {
		greeting = fmt.Sprintf("👋 Namaste %s!", name)
	}
	return greeting + `

🤖 I'm an AI assistant powered by SambaNova.

What I can do:
✅ Answer questions in English/Hindi/Hinglish
✅ Help with coding & programming
✅ Creative writing & content
✅ Explain complex topics

Just send me any message to start chatting!

Commands:
/help - Show all commands
/reset - Clear conversation
/model - Change AI model
/stats - View bot statistics`
}

var startKeyboard = [][]cmdpkg.Button{
	{{Text: "💬 Start Chat", Data: "/chat"}, {Text: "ℹ️ Help", Data: "/help"}},
	{{Text: "🤖 Change Model", Data: "/model"}, {Text: "📊 Stats", Data: "/stats"}},
}

const chatPromptText = "💬 Let's chat! Send me any message to start."

func resetText(cleared int) string {
	if cleared == 0 {
		return "💭 No conversation history found. Start chatting!"
	}
	return fmt.Sprintf("✅ Conversation reset!\n\nCleared %d messages. Starting fresh!", cleared)
}

func modelMenu(registry *model.Registry, current string) (string, [][]cmdpkg.Button) {
	var b strings.Builder
	cur, _ := registry.Lookup(current)
	fmt.Fprintf(&b, "🤖 AI Model Selection\n\nCurrent model: %s (%s)\n\nAvailable models:\n", cur.Label, cur.ProviderID)

	rows := make([][]cmdpkg.Button, 0, registry.Len())
	for _, e := range registry.Entries() {
		marker := ""
		if e.Label == registry.DefaultLabel() {
			marker = " ⭐ default"
		}
		fmt.Fprintf(&b, "\n• %s – %s%s\n  %s", e.Label, e.Title, marker, e.Description)

		text := e.Title
		if e.Label == cur.Label {
			text = "✅ " + text
		}
		rows = append(rows, []cmdpkg.Button{{Text: text, Data: "/model " + e.Label}})
	}
	b.WriteString("\n\nChoose your preferred model:")
	return b.String(), rows
}

func modelChangedText(e model.Entry) string {
	return fmt.Sprintf("✅ Model changed to: %s (%s)\n\nStart chatting with the new model!", e.Label, e.ProviderID)
}

func invalidModelText(label string, valid []string) string {
	return fmt.Sprintf("❌ Unknown model %q.\n\nValid models: %s\nUsage: /model <label>", label, strings.Join(valid, ", "))
}

func unknownCommandText(name string) string {
	return fmt.Sprintf("🤔 I don't know the command /%s. Use /help to see what I can do.", name)
}

func statsText(s stats.Snapshot, st session.Stats, models int, now time.Time) string {
	return fmt.Sprintf(`📊 Bot Statistics

⏱️ Uptime: %s
👥 Total users: %d
💬 Messages processed: %d
🧠 Active conversations: %d
❌ Errors: %d
🤖 Models available: %d`,
		formatUptime(s.Uptime(now)),
		s.KnownUsers,
		s.TotalMessages,
		st.ActiveConversations,
		s.TotalErrors,
		models,
	)
}

// formatUptime renders d as "H:MM:SS", prefixed with whole days when
// longer than a day.
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	total %= 86400
	clock := fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	switch days {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	default:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
}

func failureText(err error) string {
	var status int
	var cerr *openai.CompletionError
	if errors.As(err, &cerr) {
		status = cerr.StatusCode
	}
	switch openai.KindOf(err) {
	case openai.KindTimeout:
		return "⏱️ Request timeout! The AI took too long to respond. Please try again."
	case openai.KindRateLimited:
		return "🚦 The AI service is busy right now (rate limit reached). Please wait a moment and try again."
	case openai.KindMalformedResponse:
		return "⚠️ Sorry, I got an unexpected response from the AI service. Please try again!"
	default:
		if status != 0 {
			return fmt.Sprintf("⚠️ Sorry, the AI service returned error %d. Please try again!", status)
		}
		return "⚠️ Sorry, I couldn't reach the AI service. Please try again!"
	}
}

const internalErrorText = "❌ Oops! Something went wrong.\n\nPlease try again or use /help for assistance."
